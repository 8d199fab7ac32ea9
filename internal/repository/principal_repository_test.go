package repository

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tfst/carrier-portal/internal/domain"
)

func newPrincipalRepoForTest(t *testing.T) PrincipalRepository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.Principal{}); err != nil {
		t.Fatalf("migrate principal: %v", err)
	}
	return NewPrincipalRepository(db)
}

func TestPrincipalRepositoryUpsertCreatesThenUpdates(t *testing.T) {
	repo := newPrincipalRepoForTest(t)

	first := &domain.Principal{
		SalesforceUserID:   "005XYZ",
		Email:              "driver@acme.example",
		Name:               "Pat Driver",
		CarrierID:          "CAR001",
		CarrierName:        "Acme Freight",
		IsActive:           true,
		CanUpdateShipments: true,
	}
	if err := repo.Upsert(first); err != nil {
		t.Fatalf("initial upsert: %v", err)
	}
	if first.ID == 0 {
		t.Fatal("expected id assigned on create")
	}

	// Second login with refreshed CRM attributes must update in place.
	second := &domain.Principal{
		SalesforceUserID: "005XYZ",
		Email:            "driver@acme.example",
		Name:             "Pat Q. Driver",
		CarrierID:        "CAR001",
		CarrierName:      "Acme Freight",
		IsActive:         true,
		CanViewAnalytics: true,
	}
	if err := repo.Upsert(second); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected upsert to reuse id %d, got %d", first.ID, second.ID)
	}

	got, err := repo.FindBySalesforceUserID("005XYZ")
	if err != nil {
		t.Fatalf("find by sf user id: %v", err)
	}
	if got.Name != "Pat Q. Driver" {
		t.Fatalf("expected updated name, got %q", got.Name)
	}
	if !got.CanViewAnalytics || got.CanUpdateShipments {
		t.Fatalf("expected capability flags refreshed from CRM, got %+v", got)
	}
}

func TestPrincipalRepositoryFindMissing(t *testing.T) {
	repo := newPrincipalRepoForTest(t)

	if _, err := repo.FindBySalesforceUserID("005NOPE"); err != ErrPrincipalNotFound {
		t.Fatalf("expected ErrPrincipalNotFound, got %v", err)
	}
	if _, err := repo.FindByID(99); err != ErrPrincipalNotFound {
		t.Fatalf("expected ErrPrincipalNotFound, got %v", err)
	}
}

func TestPrincipalRepositoryTouchLastLogin(t *testing.T) {
	repo := newPrincipalRepoForTest(t)

	p := &domain.Principal{SalesforceUserID: "005A", CarrierID: "CAR001", IsActive: true}
	if err := repo.Upsert(p); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	at := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	if err := repo.TouchLastLogin(p.ID, at); err != nil {
		t.Fatalf("touch last login: %v", err)
	}

	got, err := repo.FindByID(p.ID)
	if err != nil {
		t.Fatalf("find by id: %v", err)
	}
	if got.LastLoginAt == nil || !got.LastLoginAt.Equal(at) {
		t.Fatalf("expected last login %v, got %v", at, got.LastLoginAt)
	}
}
