package realtime

import (
	"context"
	"errors"
	"time"

	"github.com/tfst/carrier-portal/internal/domain"
)

var ErrNotTracked = errors.New("shipment has no realtime tracking record")

// TrackingRecord is the live overlay for one shipment. It is best-effort
// data: readers must tolerate its absence and fall back to CRM fields.
type TrackingRecord struct {
	ShipmentID  string             `json:"shipment_id"`
	CarrierID   string             `json:"carrier_id"`
	Status      string             `json:"status"`
	Location    *domain.Location   `json:"location,omitempty"`
	LastUpdated time.Time          `json:"last_updated"`
	DriverInfo  *domain.DriverInfo `json:"driver_info,omitempty"`
}

// HistoryEntry is one append-only step in a shipment's status timeline.
type HistoryEntry struct {
	Status    string           `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Location  *domain.Location `json:"location,omitempty"`
	Notes     string           `json:"notes,omitempty"`
	Source    string           `json:"source,omitempty"`
}

// Document is metadata for one shipment document; the payload itself lives
// in the file store under StorageKey.
type Document struct {
	ID          string    `json:"id"`
	ShipmentID  string    `json:"shipment_id"`
	CarrierID   string    `json:"carrier_id"`
	Type        string    `json:"type"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type,omitempty"`
	SizeBytes   int64     `json:"size_bytes,omitempty"`
	StorageKey  string    `json:"storage_key"`
	UploadedBy  string    `json:"uploaded_by,omitempty"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// Store is the realtime tracking surface. Writes merge into the existing
// record rather than replacing it wholesale.
type Store interface {
	GetTracking(ctx context.Context, shipmentID string) (*TrackingRecord, error)
	GetCarrierTracking(ctx context.Context, carrierID string) (map[string]*TrackingRecord, error)
	SaveTracking(ctx context.Context, rec *TrackingRecord) error
	AppendHistory(ctx context.Context, shipmentID string, entry HistoryEntry) error
	ListHistory(ctx context.Context, shipmentID string, limit int) ([]HistoryEntry, error)
	SaveDocument(ctx context.Context, doc Document) error
	ListDocuments(ctx context.Context, shipmentID string) ([]Document, error)
}
