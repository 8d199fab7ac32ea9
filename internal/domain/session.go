package domain

import "time"

// Session is the audit record of one portal login. The live CRM token
// material is held in the token store keyed by TokenID; this row only
// tracks lifecycle for the sessions view and revocation.
type Session struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	PrincipalID   uint       `gorm:"index;not null" json:"principal_id"`
	TokenID       string     `gorm:"size:64;uniqueIndex;not null" json:"-"`
	UserAgent     string     `gorm:"size:512" json:"user_agent"`
	IP            string     `gorm:"size:64" json:"ip"`
	ExpiresAt     time.Time  `gorm:"index;not null" json:"expires_at"`
	RevokedAt     *time.Time `gorm:"index" json:"revoked_at,omitempty"`
	RevokedReason *string    `gorm:"size:64" json:"revoked_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
