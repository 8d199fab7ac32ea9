package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tfst/carrier-portal/internal/domain"
	"github.com/tfst/carrier-portal/internal/observability"
)

var ErrPrincipalNotFound = errors.New("principal not found")

type PrincipalRepository interface {
	FindByID(id uint) (*domain.Principal, error)
	FindBySalesforceUserID(sfUserID string) (*domain.Principal, error)
	Upsert(p *domain.Principal) error
	TouchLastLogin(id uint, at time.Time) error
	ListByCarrier(carrierID string) ([]domain.Principal, error)
}

type GormPrincipalRepository struct{ db *gorm.DB }

func NewPrincipalRepository(db *gorm.DB) PrincipalRepository {
	return &GormPrincipalRepository{db: db}
}

func (r *GormPrincipalRepository) FindByID(id uint) (*domain.Principal, error) {
	var p domain.Principal
	err := r.db.First(&p, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "principal", "find_by_id", "not_found")
			return nil, ErrPrincipalNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "principal", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "principal", "find_by_id", "success")
	return &p, nil
}

func (r *GormPrincipalRepository) FindBySalesforceUserID(sfUserID string) (*domain.Principal, error) {
	var p domain.Principal
	err := r.db.Where("salesforce_user_id = ?", sfUserID).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "principal", "find_by_sf_user_id", "not_found")
			return nil, ErrPrincipalNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "principal", "find_by_sf_user_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "principal", "find_by_sf_user_id", "success")
	return &p, nil
}

// Upsert creates the principal on first login and refreshes the CRM-sourced
// attributes on every later one. The CRM user id is the identity key.
func (r *GormPrincipalRepository) Upsert(p *domain.Principal) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var existing domain.Principal
		err := tx.Where("salesforce_user_id = ?", p.SalesforceUserID).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(p).Error
		}
		if err != nil {
			return err
		}
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
		return tx.Save(p).Error
	})
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "principal", "upsert", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "principal", "upsert", "success")
	return nil
}

func (r *GormPrincipalRepository) TouchLastLogin(id uint, at time.Time) error {
	err := r.db.Model(&domain.Principal{}).
		Where("id = ?", id).
		Update("last_login_at", at).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "principal", "touch_last_login", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "principal", "touch_last_login", "success")
	return nil
}

func (r *GormPrincipalRepository) ListByCarrier(carrierID string) ([]domain.Principal, error) {
	var principals []domain.Principal
	err := r.db.Where("carrier_id = ?", carrierID).Order("name ASC").Find(&principals).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "principal", "list_by_carrier", "error")
		return principals, err
	}
	observability.RecordRepositoryOperation(context.Background(), "principal", "list_by_carrier", "success")
	return principals, nil
}
