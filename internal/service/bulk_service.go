package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tfst/carrier-portal/internal/crm"
	"github.com/tfst/carrier-portal/internal/domain"
	"github.com/tfst/carrier-portal/internal/filestore"
	"github.com/tfst/carrier-portal/internal/observability"
	"github.com/tfst/carrier-portal/internal/repository"
)

var (
	ErrEmptyInput       = errors.New("upload contains no data rows")
	ErrUploadNotFound   = errors.New("upload not found")
	ErrUploadNotPending = errors.New("upload already processed")
)

// MissingColumnsError rejects an upload whose header lacks required columns.
type MissingColumnsError struct {
	Columns []string
}

func (e *MissingColumnsError) Error() string {
	return "missing required columns: " + strings.Join(e.Columns, ", ")
}

// InvalidStatusValuesError rejects the whole batch when any row carries a
// status outside the fixed enumeration. Checked before any row is applied.
type InvalidStatusValuesError struct {
	Values []string
}

func (e *InvalidStatusValuesError) Error() string {
	return "invalid status values: " + strings.Join(e.Values, ", ")
}

// BatchTooLargeError bounds per-request cost.
type BatchTooLargeError struct {
	Rows  int
	Limit int
}

func (e *BatchTooLargeError) Error() string {
	return fmt.Sprintf("batch of %d rows exceeds the limit of %d", e.Rows, e.Limit)
}

var requiredColumns = []string{"shipment_id", "status", "timestamp"}

// timestampLayouts are tried in order when repairing a row timestamp.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// BulkRow is one parsed line of an uploaded status file.
type BulkRow struct {
	Line        int
	ShipmentKey string
	Status      string
	Timestamp   time.Time
	Location    *domain.Location
	Driver      *domain.DriverInfo
	Notes       string
}

// RowResult is the per-row outcome returned for UI display.
type RowResult struct {
	Line        int    `json:"line"`
	ShipmentKey string `json:"shipment_id"`
	Status      string `json:"status"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
}

// BulkResult aggregates one processing run.
type BulkResult struct {
	UploadID  string      `json:"upload_id"`
	Processed int         `json:"processed_count"`
	Failed    int         `json:"failed_count"`
	Errors    []string    `json:"errors,omitempty"`
	Rows      []RowResult `json:"rows"`
}

const bulkErrorCap = 10

// statusUpdater is the row-application surface; the shipment service's
// single-update path satisfies it so bulk rows and portal updates share the
// same CRM-gates-success semantics.
type statusUpdater interface {
	UpdateStatus(ctx context.Context, cred *crm.Credential, carrierID, key string, change StatusChange) error
}

// BulkService parses uploaded CSV status files, applies them row by row and
// keeps an audit trail of every run.
type BulkService struct {
	updater statusUpdater
	files   filestore.Store
	uploads repository.UploadLogRepository
	maxRows int
	now     func() time.Time
}

func NewBulkService(updater statusUpdater, files filestore.Store, uploads repository.UploadLogRepository, maxRows int) *BulkService {
	if maxRows <= 0 {
		maxRows = 100
	}
	return &BulkService{
		updater: updater,
		files:   files,
		uploads: uploads,
		maxRows: maxRows,
		now:     time.Now,
	}
}

// Upload validates the file shape, archives the payload and records a
// pending upload log. No shipment is touched yet.
func (s *BulkService) Upload(ctx context.Context, carrierID, filename string, payload []byte) (*domain.UploadLog, error) {
	if _, err := s.ParseCSV(bytes.NewReader(payload)); err != nil {
		return nil, err
	}
	key, err := s.files.Save(ctx, carrierID, filename, payload)
	if err != nil {
		return nil, fmt.Errorf("archive upload payload: %w", err)
	}
	log := &domain.UploadLog{
		ID:         uuid.NewString(),
		CarrierID:  carrierID,
		Filename:   filename,
		StorageKey: key,
		Status:     domain.UploadStatusPending,
	}
	if err := s.uploads.Create(log); err != nil {
		return nil, fmt.Errorf("record upload log: %w", err)
	}
	return log, nil
}

// Process runs one pending upload: claims it, re-reads the archived
// payload, re-validates it and applies every row. Rows keep processing
// past individual failures; only the aggregate is persisted.
func (s *BulkService) Process(ctx context.Context, cred *crm.Credential, carrierID, uploadID string) (*BulkResult, error) {
	log, err := s.uploads.FindByIDForCarrier(uploadID, carrierID)
	if err != nil {
		if errors.Is(err, repository.ErrUploadLogNotFound) {
			return nil, ErrUploadNotFound
		}
		return nil, err
	}
	// The claim is atomic, so a concurrent or repeated Process call for the
	// same upload loses here instead of applying the rows twice.
	if err := s.uploads.MarkProcessing(log.ID); err != nil {
		if errors.Is(err, repository.ErrUploadLogNotPending) {
			return nil, ErrUploadNotPending
		}
		return nil, fmt.Errorf("claim upload for processing: %w", err)
	}

	payload, err := s.files.Fetch(ctx, log.StorageKey)
	if err != nil {
		s.markError(log.ID, "archived payload unavailable")
		return nil, fmt.Errorf("fetch archived payload: %w", err)
	}
	rows, err := s.ParseCSV(bytes.NewReader(payload))
	if err != nil {
		s.markError(log.ID, err.Error())
		return nil, err
	}

	result := s.applyRows(ctx, cred, carrierID, log.ID, rows)

	var details *string
	if len(result.Errors) > 0 {
		joined := strings.Join(result.Errors, "; ")
		if len(joined) > 2000 {
			joined = joined[:2000]
		}
		details = &joined
	}
	if err := s.uploads.MarkCompleted(log.ID, result.Processed, result.Failed, details, s.now().UTC()); err != nil {
		return nil, fmt.Errorf("finalize upload log: %w", err)
	}
	return result, nil
}

// History returns the carrier's past runs, newest first.
func (s *BulkService) History(carrierID string, page, pageSize int) (repository.PageResult[domain.UploadLog], error) {
	return s.uploads.ListPagedByCarrier(carrierID, repository.PageRequest{Page: page, PageSize: pageSize})
}

// ParseCSV decodes and validates the upload. Header names are matched
// case-insensitively; the batch is rejected wholesale on a missing column,
// zero data rows, an oversized batch, or any out-of-enumeration status.
func (s *BulkService) ParseCSV(r io.Reader) ([]BulkRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrEmptyInput
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	columns := map[string]int{}
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	var missing []string
	for _, name := range requiredColumns {
		if _, ok := columns[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingColumnsError{Columns: missing}
	}

	var rows []BulkRow
	invalidStatuses := map[string]struct{}{}
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", line, err)
		}
		row := s.parseRow(line, record, columns)
		if row.Status != "" && !domain.IsValidStatus(row.Status) {
			invalidStatuses[row.Status] = struct{}{}
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, ErrEmptyInput
	}
	if len(rows) > s.maxRows {
		return nil, &BatchTooLargeError{Rows: len(rows), Limit: s.maxRows}
	}
	if len(invalidStatuses) > 0 {
		values := make([]string, 0, len(invalidStatuses))
		for v := range invalidStatuses {
			values = append(values, v)
		}
		sort.Strings(values)
		return nil, &InvalidStatusValuesError{Values: values}
	}
	return rows, nil
}

func (s *BulkService) parseRow(line int, record []string, columns map[string]int) BulkRow {
	field := func(name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	row := BulkRow{
		Line:        line,
		ShipmentKey: field("shipment_id"),
		Status:      field("status"),
		Timestamp:   s.parseTimestamp(field("timestamp")),
		Notes:       field("notes"),
	}
	if lat, latErr := strconv.ParseFloat(field("location_lat"), 64); latErr == nil {
		if lng, lngErr := strconv.ParseFloat(field("location_lng"), 64); lngErr == nil {
			loc := domain.Location{Lat: lat, Lng: lng}
			// Out-of-range coordinates drop the location, not the row.
			if loc.Validate() == nil {
				row.Location = &loc
			}
		}
	}
	if name, truck := field("driver_name"), field("truck_number"); name != "" || truck != "" {
		row.Driver = &domain.DriverInfo{Name: name, TruckNumber: truck}
	}
	return row
}

// parseTimestamp repairs a row timestamp: known layouts and unix seconds
// are accepted, anything else defaults to the current UTC time.
func (s *BulkService) parseTimestamp(raw string) time.Time {
	if raw != "" {
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, raw); err == nil {
				return ts.UTC()
			}
		}
		if secs, err := strconv.ParseInt(raw, 10, 64); err == nil && secs > 0 {
			return time.Unix(secs, 0).UTC()
		}
	}
	return s.now().UTC()
}

func (s *BulkService) applyRows(ctx context.Context, cred *crm.Credential, carrierID, uploadID string, rows []BulkRow) *BulkResult {
	result := &BulkResult{UploadID: uploadID, Rows: make([]RowResult, 0, len(rows))}
	for _, row := range rows {
		rr := RowResult{Line: row.Line, ShipmentKey: row.ShipmentKey, Status: row.Status}
		if reason := s.applyRow(ctx, cred, carrierID, row); reason != "" {
			rr.Error = reason
			result.Failed++
			if len(result.Errors) < bulkErrorCap {
				result.Errors = append(result.Errors, fmt.Sprintf("row %d: %s", row.Line, reason))
			}
			observability.RecordBulkRow(ctx, "failed")
		} else {
			rr.Success = true
			result.Processed++
			observability.RecordBulkRow(ctx, "success")
		}
		result.Rows = append(result.Rows, rr)
	}
	return result
}

// applyRow returns a failure reason, or "" on success.
func (s *BulkService) applyRow(ctx context.Context, cred *crm.Credential, carrierID string, row BulkRow) string {
	if row.ShipmentKey == "" || row.Status == "" {
		return "missing shipment_id or status"
	}
	err := s.updater.UpdateStatus(ctx, cred, carrierID, row.ShipmentKey, StatusChange{
		Status:    row.Status,
		Location:  row.Location,
		Driver:    row.Driver,
		Notes:     row.Notes,
		Timestamp: row.Timestamp,
		Source:    "bulk_upload",
	})
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrShipmentNotFound):
		return "shipment not found"
	case errors.Is(err, ErrForeignShipment):
		return "shipment is not part of your fleet"
	case errors.Is(err, ErrInvalidStatus):
		return "invalid status value"
	case errors.Is(err, domain.ErrInvalidCoordinates):
		return "invalid coordinates"
	default:
		return "status update failed"
	}
}

func (s *BulkService) markError(id, details string) {
	if err := s.uploads.MarkError(id, details, s.now().UTC()); err != nil {
		slog.Warn("failed to mark upload log as errored", "upload_id", id, "error", err.Error())
	}
}
