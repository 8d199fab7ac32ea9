package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tfst/carrier-portal/internal/domain"
	"github.com/tfst/carrier-portal/internal/observability"
)

var ErrSessionNotFound = errors.New("session not found")

type SessionRepository interface {
	Create(s *domain.Session) error
	FindActiveByTokenID(tokenID string) (*domain.Session, error)
	ListActiveByPrincipalID(principalID uint) ([]domain.Session, error)
	RevokeByTokenID(tokenID, reason string) error
	RevokeByPrincipalID(principalID uint, reason string) (int64, error)
	CleanupExpired() (int64, error)
}

type GormSessionRepository struct{ db *gorm.DB }

func NewSessionRepository(db *gorm.DB) SessionRepository { return &GormSessionRepository{db: db} }

func (r *GormSessionRepository) Create(s *domain.Session) error {
	err := r.db.Create(s).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "create", "success")
	return nil
}

func (r *GormSessionRepository) FindActiveByTokenID(tokenID string) (*domain.Session, error) {
	var s domain.Session
	err := r.db.Where("token_id = ? AND revoked_at IS NULL AND expires_at > ?", tokenID, time.Now()).
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "session", "find_active_by_token_id", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "session", "find_active_by_token_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "find_active_by_token_id", "success")
	return &s, nil
}

func (r *GormSessionRepository) ListActiveByPrincipalID(principalID uint) ([]domain.Session, error) {
	var sessions []domain.Session
	err := r.db.Where("principal_id = ? AND revoked_at IS NULL AND expires_at > ?", principalID, time.Now()).
		Order("created_at DESC").
		Find(&sessions).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "list_active_by_principal_id", "error")
		return sessions, err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "list_active_by_principal_id", "success")
	return sessions, err
}

func (r *GormSessionRepository) RevokeByTokenID(tokenID, reason string) error {
	now := time.Now().UTC()
	err := r.db.Model(&domain.Session{}).
		Where("token_id = ? AND revoked_at IS NULL", tokenID).
		Updates(map[string]any{"revoked_at": now, "revoked_reason": reason}).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "revoke_by_token_id", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "revoke_by_token_id", "success")
	return nil
}

func (r *GormSessionRepository) RevokeByPrincipalID(principalID uint, reason string) (int64, error) {
	now := time.Now().UTC()
	res := r.db.Model(&domain.Session{}).
		Where("principal_id = ? AND revoked_at IS NULL", principalID).
		Updates(map[string]any{"revoked_at": now, "revoked_reason": reason})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "revoke_by_principal_id", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "revoke_by_principal_id", "success")
	return res.RowsAffected, nil
}

func (r *GormSessionRepository) CleanupExpired() (int64, error) {
	res := r.db.Where("expires_at <= ?", time.Now()).Delete(&domain.Session{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "cleanup_expired", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "cleanup_expired", "success")
	return res.RowsAffected, nil
}
