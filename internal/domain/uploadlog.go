package domain

import "time"

const (
	UploadStatusPending    = "pending"
	UploadStatusProcessing = "processing"
	UploadStatusCompleted  = "completed"
	UploadStatusError      = "error"
)

// UploadLog records one bulk CSV processing run for the history view.
type UploadLog struct {
	ID               string     `gorm:"primaryKey;size:36" json:"id"`
	CarrierID        string     `gorm:"size:64;index;not null" json:"carrier_id"`
	Filename         string     `gorm:"size:255" json:"filename"`
	StorageKey       string     `gorm:"size:512;index" json:"storage_key"`
	Status           string     `gorm:"size:16;not null" json:"status"`
	RecordsProcessed int        `json:"records_processed"`
	RecordsFailed    int        `json:"records_failed"`
	ErrorDetails     *string    `gorm:"size:2048" json:"error_details,omitempty"`
	ProcessedAt      *time.Time `json:"processed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}
