package crm

import (
	"time"

	"github.com/tfst/carrier-portal/internal/domain"
)

// Credential is the live OAuth token material for one portal session.
// The access token must never be used past ExpiresAt; RefreshToken may be
// empty when the provider did not grant offline access.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	InstanceURL  string    `json:"instance_url"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func (c *Credential) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// UserInfo is the identity attributes returned by the provider's userinfo
// endpoint for the logged-in principal.
type UserInfo struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

// Carrier is the CRM master record for a carrier organization, including
// the portal permission flags maintained by the CRM team.
type Carrier struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Email              string `json:"email,omitempty"`
	ContactNumber      string `json:"contact_number,omitempty"`
	IsActive           bool   `json:"is_active"`
	CanUpdateShipments bool   `json:"can_update_shipments"`
	CanUploadDocuments bool   `json:"can_upload_documents"`
	CanViewAnalytics   bool   `json:"can_view_analytics"`
}

// Shipment is the authoritative CRM shipment record. Id is the canonical
// lookup key; Name is a human-readable alias usable as a fallback key.
type Shipment struct {
	ID                    string  `json:"id"`
	Name                  string  `json:"name"`
	CarrierID             string  `json:"carrier_id"`
	Status                string  `json:"status"`
	ShipmentType          string  `json:"shipment_type,omitempty"`
	ProjectReference      string  `json:"project_reference,omitempty"`
	ServiceLevel          string  `json:"service_level,omitempty"`
	TotalWeight           float64 `json:"total_weight,omitempty"`
	TotalVolume           float64 `json:"total_volume,omitempty"`
	RequiredDeliveryDate  string  `json:"required_delivery_date,omitempty"`
	PredictedDeliveryDate string  `json:"predicted_delivery_date,omitempty"`
	DriverName            string  `json:"driver_name,omitempty"`
	DriverPhone           string  `json:"driver_phone,omitempty"`
	SpecialInstructions   string  `json:"special_instructions,omitempty"`
}

// Stage is one leg of a multi-stage shipment.
type Stage struct {
	ID               string `json:"id"`
	ShipmentID       string `json:"shipment_id"`
	StageNumber      int    `json:"stage_number"`
	StageType        string `json:"stage_type,omitempty"`
	Status           string `json:"status,omitempty"`
	PickupLocation   string `json:"pickup_location,omitempty"`
	DeliveryLocation string `json:"delivery_location,omitempty"`
	ScheduledStart   string `json:"scheduled_start,omitempty"`
	ScheduledEnd     string `json:"scheduled_end,omitempty"`
}

// StatusUpdate carries the mutable tracking fields of an update-by-id call.
type StatusUpdate struct {
	Status   string
	Location *domain.Location
	Driver   *domain.DriverInfo
}

// TrackingEvent is an append-only tracking record created alongside a
// status update.
type TrackingEvent struct {
	ShipmentID string
	Status     string
	Timestamp  time.Time
	Location   *domain.Location
	Notes      string
	Source     string
}
