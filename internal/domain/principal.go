package domain

import "time"

// Capability names embedded in session claims and checked by the permission gate.
const (
	CapUpdateShipments = "shipments:update"
	CapUploadDocuments = "documents:upload"
	CapViewAnalytics   = "analytics:view"
)

// Principal is the portal-side record of an authenticated carrier user.
// It is upserted on every successful login, keyed by the identity the
// CRM provider issued; the CRM remains the system of record for the
// capability flags and the active flag.
type Principal struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	SalesforceUserID   string     `gorm:"size:64;uniqueIndex;not null" json:"salesforce_user_id"`
	Email              string     `gorm:"size:255;index" json:"email"`
	Name               string     `gorm:"size:255" json:"name"`
	CarrierID          string     `gorm:"size:64;index;not null" json:"carrier_id"`
	CarrierName        string     `gorm:"size:255" json:"carrier_name"`
	PhoneNumber        string     `gorm:"size:64" json:"phone_number,omitempty"`
	IsActive           bool       `gorm:"not null;default:true" json:"is_active"`
	CanUpdateShipments bool       `gorm:"not null;default:false" json:"can_update_shipments"`
	CanUploadDocuments bool       `gorm:"not null;default:false" json:"can_upload_documents"`
	CanViewAnalytics   bool       `gorm:"not null;default:false" json:"can_view_analytics"`
	LastLoginAt        *time.Time `json:"last_login_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Capabilities maps the boolean flags to the capability names carried in
// session claims.
func (p *Principal) Capabilities() []string {
	caps := make([]string, 0, 3)
	if p.CanUpdateShipments {
		caps = append(caps, CapUpdateShipments)
	}
	if p.CanUploadDocuments {
		caps = append(caps, CapUploadDocuments)
	}
	if p.CanViewAnalytics {
		caps = append(caps, CapViewAnalytics)
	}
	return caps
}
