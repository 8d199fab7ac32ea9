package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tfst/carrier-portal/internal/domain"
	"github.com/tfst/carrier-portal/internal/observability"
)

var (
	ErrUploadLogNotFound   = errors.New("upload log not found")
	ErrUploadLogNotPending = errors.New("upload log is not pending")
)

type UploadLogRepository interface {
	Create(log *domain.UploadLog) error
	FindByIDForCarrier(id, carrierID string) (*domain.UploadLog, error)
	MarkProcessing(id string) error
	MarkCompleted(id string, processed, failed int, errorDetails *string, at time.Time) error
	MarkError(id string, errorDetails string, at time.Time) error
	ListPagedByCarrier(carrierID string, req PageRequest) (PageResult[domain.UploadLog], error)
}

type GormUploadLogRepository struct{ db *gorm.DB }

func NewUploadLogRepository(db *gorm.DB) UploadLogRepository {
	return &GormUploadLogRepository{db: db}
}

func (r *GormUploadLogRepository) Create(log *domain.UploadLog) error {
	err := r.db.Create(log).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "upload_log", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "upload_log", "create", "success")
	return nil
}

func (r *GormUploadLogRepository) FindByIDForCarrier(id, carrierID string) (*domain.UploadLog, error) {
	var log domain.UploadLog
	err := r.db.Where("id = ? AND carrier_id = ?", id, carrierID).First(&log).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "upload_log", "find_by_id_for_carrier", "not_found")
			return nil, ErrUploadLogNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "upload_log", "find_by_id_for_carrier", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "upload_log", "find_by_id_for_carrier", "success")
	return &log, nil
}

// MarkProcessing claims a pending upload. The conditional update is the
// claim itself: when two workers race, only one update hits a pending row.
func (r *GormUploadLogRepository) MarkProcessing(id string) error {
	res := r.db.Model(&domain.UploadLog{}).
		Where("id = ? AND status = ?", id, domain.UploadStatusPending).
		Update("status", domain.UploadStatusProcessing)
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "upload_log", "mark_processing", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(context.Background(), "upload_log", "mark_processing", "conflict")
		return ErrUploadLogNotPending
	}
	observability.RecordRepositoryOperation(context.Background(), "upload_log", "mark_processing", "success")
	return nil
}

func (r *GormUploadLogRepository) MarkCompleted(id string, processed, failed int, errorDetails *string, at time.Time) error {
	updates := map[string]any{
		"status":            domain.UploadStatusCompleted,
		"records_processed": processed,
		"records_failed":    failed,
		"error_details":     errorDetails,
		"processed_at":      at,
	}
	err := r.db.Model(&domain.UploadLog{}).Where("id = ?", id).Updates(updates).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "upload_log", "mark_completed", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "upload_log", "mark_completed", "success")
	return nil
}

func (r *GormUploadLogRepository) MarkError(id string, errorDetails string, at time.Time) error {
	updates := map[string]any{
		"status":        domain.UploadStatusError,
		"error_details": errorDetails,
		"processed_at":  at,
	}
	err := r.db.Model(&domain.UploadLog{}).Where("id = ?", id).Updates(updates).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "upload_log", "mark_error", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "upload_log", "mark_error", "success")
	return nil
}

func (r *GormUploadLogRepository) ListPagedByCarrier(carrierID string, req PageRequest) (PageResult[domain.UploadLog], error) {
	req = normalizePageRequest(req)
	result := PageResult[domain.UploadLog]{
		Page:     req.Page,
		PageSize: req.PageSize,
	}

	base := r.db.Model(&domain.UploadLog{}).Where("carrier_id = ?", carrierID)
	if err := base.Session(&gorm.Session{}).Count(&result.Total).Error; err != nil {
		observability.RecordRepositoryOperation(context.Background(), "upload_log", "list_paged_by_carrier", "error")
		return PageResult[domain.UploadLog]{}, err
	}

	offset := (req.Page - 1) * req.PageSize
	err := base.Order("created_at DESC").Offset(offset).Limit(req.PageSize).Find(&result.Items).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "upload_log", "list_paged_by_carrier", "error")
		return PageResult[domain.UploadLog]{}, err
	}
	result.TotalPages = calcTotalPages(result.Total, req.PageSize)
	observability.RecordRepositoryOperation(context.Background(), "upload_log", "list_paged_by_carrier", "success")
	return result, nil
}
