package repository

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tfst/carrier-portal/internal/domain"
)

func newUploadLogRepoForTest(t *testing.T) UploadLogRepository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.UploadLog{}); err != nil {
		t.Fatalf("migrate upload log: %v", err)
	}
	return NewUploadLogRepository(db)
}

func TestUploadLogLifecycle(t *testing.T) {
	repo := newUploadLogRepoForTest(t)

	log := &domain.UploadLog{
		ID:         "upload-1",
		CarrierID:  "CAR001",
		Filename:   "updates.csv",
		StorageKey: "carriers/CAR001/bulk/upload-1",
		Status:     domain.UploadStatusPending,
	}
	if err := repo.Create(log); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.FindByIDForCarrier("upload-1", "CAR001")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Status != domain.UploadStatusPending || got.Filename != "updates.csv" {
		t.Fatalf("unexpected log: %+v", got)
	}

	details := "line 3: shipment not found"
	at := time.Now().UTC()
	if err := repo.MarkCompleted("upload-1", 4, 1, &details, at); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	got, err = repo.FindByIDForCarrier("upload-1", "CAR001")
	if err != nil {
		t.Fatalf("find after completion: %v", err)
	}
	if got.Status != domain.UploadStatusCompleted || got.RecordsProcessed != 4 || got.RecordsFailed != 1 {
		t.Fatalf("completion not persisted: %+v", got)
	}
	if got.ErrorDetails == nil || *got.ErrorDetails != details {
		t.Fatalf("error details not persisted: %v", got.ErrorDetails)
	}
	if got.ProcessedAt == nil {
		t.Fatal("processed_at not persisted")
	}
}

func TestUploadLogCarrierScoping(t *testing.T) {
	repo := newUploadLogRepoForTest(t)

	if err := repo.Create(&domain.UploadLog{ID: "upload-1", CarrierID: "CAR001", Status: domain.UploadStatusPending}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := repo.FindByIDForCarrier("upload-1", "CAR999"); !errors.Is(err, ErrUploadLogNotFound) {
		t.Fatalf("cross-carrier lookup should miss, got %v", err)
	}
	if _, err := repo.FindByIDForCarrier("nope", "CAR001"); !errors.Is(err, ErrUploadLogNotFound) {
		t.Fatalf("unknown id should miss, got %v", err)
	}
}

func TestUploadLogMarkProcessingClaimsOnce(t *testing.T) {
	repo := newUploadLogRepoForTest(t)

	if err := repo.Create(&domain.UploadLog{ID: "upload-1", CarrierID: "CAR001", Status: domain.UploadStatusPending}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := repo.MarkProcessing("upload-1"); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	got, err := repo.FindByIDForCarrier("upload-1", "CAR001")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Status != domain.UploadStatusProcessing {
		t.Fatalf("expected processing status, got %q", got.Status)
	}

	// A second claimer loses, whatever the current non-pending status is.
	if err := repo.MarkProcessing("upload-1"); !errors.Is(err, ErrUploadLogNotPending) {
		t.Fatalf("expected ErrUploadLogNotPending on second claim, got %v", err)
	}
	if err := repo.MarkCompleted("upload-1", 1, 0, nil, time.Now().UTC()); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	if err := repo.MarkProcessing("upload-1"); !errors.Is(err, ErrUploadLogNotPending) {
		t.Fatalf("expected ErrUploadLogNotPending after completion, got %v", err)
	}
	if err := repo.MarkProcessing("nope"); !errors.Is(err, ErrUploadLogNotPending) {
		t.Fatalf("expected ErrUploadLogNotPending for unknown id, got %v", err)
	}
}

func TestUploadLogMarkError(t *testing.T) {
	repo := newUploadLogRepoForTest(t)

	if err := repo.Create(&domain.UploadLog{ID: "upload-1", CarrierID: "CAR001", Status: domain.UploadStatusPending}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.MarkError("upload-1", "stored file missing", time.Now().UTC()); err != nil {
		t.Fatalf("mark error: %v", err)
	}
	got, err := repo.FindByIDForCarrier("upload-1", "CAR001")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Status != domain.UploadStatusError || got.ErrorDetails == nil {
		t.Fatalf("error state not persisted: %+v", got)
	}
}

func TestUploadLogListPagedByCarrierOrdersNewestFirst(t *testing.T) {
	repo := newUploadLogRepoForTest(t)

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		log := &domain.UploadLog{
			ID:        fmt.Sprintf("upload-%d", i),
			CarrierID: "CAR001",
			Status:    domain.UploadStatusCompleted,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := repo.Create(log); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	if err := repo.Create(&domain.UploadLog{ID: "other", CarrierID: "CAR999", Status: domain.UploadStatusCompleted}); err != nil {
		t.Fatalf("create other: %v", err)
	}

	page, err := repo.ListPagedByCarrier("CAR001", PageRequest{Page: 1, PageSize: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 5 || page.TotalPages != 3 || len(page.Items) != 2 {
		t.Fatalf("unexpected page: total=%d pages=%d items=%d", page.Total, page.TotalPages, len(page.Items))
	}
	if page.Items[0].ID != "upload-4" || page.Items[1].ID != "upload-3" {
		t.Fatalf("expected newest first, got %s, %s", page.Items[0].ID, page.Items[1].ID)
	}

	last, err := repo.ListPagedByCarrier("CAR001", PageRequest{Page: 3, PageSize: 2})
	if err != nil {
		t.Fatalf("last page: %v", err)
	}
	if len(last.Items) != 1 || last.Items[0].ID != "upload-0" {
		t.Fatalf("unexpected last page: %+v", last.Items)
	}
}
