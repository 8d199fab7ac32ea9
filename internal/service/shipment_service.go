package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tfst/carrier-portal/internal/crm"
	"github.com/tfst/carrier-portal/internal/domain"
	"github.com/tfst/carrier-portal/internal/filestore"
	"github.com/tfst/carrier-portal/internal/observability"
	"github.com/tfst/carrier-portal/internal/realtime"
)

var (
	ErrShipmentNotFound = errors.New("shipment not found")
	ErrForeignShipment  = errors.New("shipment belongs to another carrier")
	ErrInvalidStatus    = errors.New("invalid status value")
	ErrUpstream         = errors.New("upstream system unavailable")
)

type ListOptions struct {
	Status  string
	Search  string
	Page    int
	PerPage int
}

// StatusChange is one shipment status mutation, either from the portal UI
// or from a bulk upload row. A zero Timestamp means "now".
type StatusChange struct {
	Status    string
	Location  *domain.Location
	Driver    *domain.DriverInfo
	Notes     string
	Timestamp time.Time
	Source    string
}

// ShipmentService serves the merged shipment views. The CRM is
// authoritative and gates every mutation; the realtime store is a
// best-effort overlay on reads and writes alike.
type ShipmentService struct {
	crmClient crm.Client
	store     realtime.Store
	files     filestore.Store
	listLimit int
	now       func() time.Time
}

func NewShipmentService(crmClient crm.Client, store realtime.Store, files filestore.Store) *ShipmentService {
	return &ShipmentService{
		crmClient: crmClient,
		store:     store,
		files:     files,
		listLimit: 200,
		now:       time.Now,
	}
}

// List filters, searches and paginates the merged fleet view.
func (s *ShipmentService) List(ctx context.Context, cred *crm.Credential, carrierID string, opts ListOptions) ([]domain.Shipment, int, error) {
	merged, err := s.Fleet(ctx, cred, carrierID)
	if err != nil {
		return nil, 0, err
	}
	merged = FilterByStatus(merged, opts.Status)
	merged = SearchShipments(merged, opts.Search)
	SortByLastUpdated(merged)
	page, total := PaginateShipments(merged, opts.Page, opts.PerPage)
	return page, total, nil
}

// Fleet fetches CRM shipments and realtime tracking concurrently and merges
// them. A realtime outage degrades to CRM-only data; a CRM failure fails
// the read.
func (s *ShipmentService) Fleet(ctx context.Context, cred *crm.Credential, carrierID string) ([]domain.Shipment, error) {
	var (
		crmShipments []crm.Shipment
		tracking     map[string]*realtime.TrackingRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		crmShipments, err = s.crmClient.ListCarrierShipments(gctx, cred, carrierID, s.listLimit)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrUpstream, err)
		}
		return nil
	})
	g.Go(func() error {
		recs, err := s.store.GetCarrierTracking(gctx, carrierID)
		if err != nil {
			slog.WarnContext(gctx, "realtime store unavailable, serving CRM data only",
				"carrier_id", carrierID, "error", err.Error())
			return nil
		}
		tracking = recs
		return nil
	})
	if err := g.Wait(); err != nil {
		observability.RecordShipmentRead(ctx, "list", "n/a")
		return nil, err
	}

	realtimeLabel := "available"
	if tracking == nil {
		realtimeLabel = "degraded"
	}
	observability.RecordShipmentRead(ctx, "list", realtimeLabel)

	return MergeShipments(crmShipments, tracking), nil
}

// Get returns the merged detail view plus the shipment's stages.
func (s *ShipmentService) Get(ctx context.Context, cred *crm.Credential, carrierID, key string) (*domain.Shipment, []crm.Stage, error) {
	shipment, err := s.resolve(ctx, cred, carrierID, key)
	if err != nil {
		return nil, nil, err
	}

	var (
		rec    *realtime.TrackingRecord
		stages []crm.Stage
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := s.store.GetTracking(gctx, shipment.ID)
		if err != nil && !errors.Is(err, realtime.ErrNotTracked) {
			slog.WarnContext(gctx, "realtime store unavailable for shipment detail",
				"shipment_id", shipment.ID, "error", err.Error())
			return nil
		}
		rec = r
		return nil
	})
	g.Go(func() error {
		st, err := s.crmClient.ListShipmentStages(gctx, cred, shipment.ID)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrUpstream, err)
		}
		stages = st
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	realtimeLabel := "available"
	if rec == nil {
		realtimeLabel = "absent"
	}
	observability.RecordShipmentRead(ctx, "detail", realtimeLabel)

	merged := MergeShipment(shipment, rec)
	return &merged, stages, nil
}

// History returns the shipment's realtime status timeline, newest first.
func (s *ShipmentService) History(ctx context.Context, cred *crm.Credential, carrierID, key string, limit int) ([]realtime.HistoryEntry, error) {
	shipment, err := s.resolve(ctx, cred, carrierID, key)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.ListHistory(ctx, shipment.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("list tracking history: %w", err)
	}
	return entries, nil
}

// UpdateStatus applies one status change. The CRM write decides success;
// the realtime overlay, history append and CRM tracking event ride along
// best-effort.
func (s *ShipmentService) UpdateStatus(ctx context.Context, cred *crm.Credential, carrierID, key string, change StatusChange) error {
	if !domain.IsValidStatus(change.Status) {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, change.Status)
	}
	if change.Location != nil {
		if err := change.Location.Validate(); err != nil {
			return err
		}
	}
	shipment, err := s.resolve(ctx, cred, carrierID, key)
	if err != nil {
		return err
	}

	update := crm.StatusUpdate{Status: change.Status, Location: change.Location, Driver: change.Driver}
	if err := s.crmClient.UpdateShipmentStatus(ctx, cred, shipment.ID, update); err != nil {
		return fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	at := change.Timestamp
	if at.IsZero() {
		at = s.now().UTC()
	}
	source := change.Source
	if source == "" {
		source = "portal"
	}
	s.writeRealtime(ctx, shipment, change, at, source)
	if err := s.crmClient.CreateTrackingEvent(ctx, cred, crm.TrackingEvent{
		ShipmentID: shipment.ID,
		Status:     change.Status,
		Timestamp:  at,
		Location:   change.Location,
		Notes:      change.Notes,
		Source:     source,
	}); err != nil {
		slog.WarnContext(ctx, "tracking event creation failed after status update",
			"shipment_id", shipment.ID, "error", err.Error())
	}
	return nil
}

func (s *ShipmentService) writeRealtime(ctx context.Context, shipment *crm.Shipment, change StatusChange, at time.Time, source string) {
	err := s.store.SaveTracking(ctx, &realtime.TrackingRecord{
		ShipmentID:  shipment.ID,
		CarrierID:   shipment.CarrierID,
		Status:      change.Status,
		Location:    change.Location,
		LastUpdated: at,
		DriverInfo:  change.Driver,
	})
	if err != nil {
		slog.WarnContext(ctx, "realtime tracking write failed after status update",
			"shipment_id", shipment.ID, "error", err.Error())
		return
	}
	err = s.store.AppendHistory(ctx, shipment.ID, realtime.HistoryEntry{
		Status:    change.Status,
		Timestamp: at,
		Location:  change.Location,
		Notes:     change.Notes,
		Source:    source,
	})
	if err != nil {
		slog.WarnContext(ctx, "history append failed after status update",
			"shipment_id", shipment.ID, "error", err.Error())
	}
}

// UploadDocument archives the payload and records its metadata against the
// shipment.
func (s *ShipmentService) UploadDocument(ctx context.Context, cred *crm.Credential, carrierID, key, docType, filename, contentType, uploadedBy string, payload []byte) (*realtime.Document, error) {
	shipment, err := s.resolve(ctx, cred, carrierID, key)
	if err != nil {
		return nil, err
	}
	storageKey, err := s.files.Save(ctx, carrierID, filename, payload)
	if err != nil {
		return nil, fmt.Errorf("store document payload: %w", err)
	}
	doc := realtime.Document{
		ID:          uuid.NewString(),
		ShipmentID:  shipment.ID,
		CarrierID:   carrierID,
		Type:        docType,
		Filename:    filename,
		ContentType: contentType,
		SizeBytes:   int64(len(payload)),
		StorageKey:  storageKey,
		UploadedBy:  uploadedBy,
		UploadedAt:  s.now().UTC(),
	}
	if err := s.store.SaveDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("record document metadata: %w", err)
	}
	return &doc, nil
}

func (s *ShipmentService) ListDocuments(ctx context.Context, cred *crm.Credential, carrierID, key string) ([]realtime.Document, error) {
	shipment, err := s.resolve(ctx, cred, carrierID, key)
	if err != nil {
		return nil, err
	}
	docs, err := s.store.ListDocuments(ctx, shipment.ID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// resolve looks the shipment up by id or name and enforces the carrier
// affiliation rule.
func (s *ShipmentService) resolve(ctx context.Context, cred *crm.Credential, carrierID, key string) (*crm.Shipment, error) {
	shipment, err := s.crmClient.GetShipment(ctx, cred, key)
	if err != nil {
		if errors.Is(err, crm.ErrShipmentNotFound) {
			return nil, ErrShipmentNotFound
		}
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	if shipment.CarrierID != carrierID {
		return nil, ErrForeignShipment
	}
	return shipment, nil
}
