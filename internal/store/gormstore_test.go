package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cliperton/cliperton-backend/internal/domain"
	"github.com/cliperton/cliperton-backend/internal/repo"
)

func newGormStore(t *testing.T, name string) *GormStore {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewGormStore(db)
}

func TestGormStore_AppendAndLookups(t *testing.T) {
	s := newGormStore(t, "gs_lookups")
	ctx := context.Background()

	rec := testLicense("CLIP-AAAA-BBBB-CCCC", "cs_test_1")
	if err := s.Append(ctx, rec); err != nil {
		t.Fatalf("Append: %v", err)
	}

	byKey, err := s.FindByKey(ctx, rec.LicenseKey)
	if err != nil {
		t.Fatalf("FindByKey: %v", err)
	}
	if byKey.TransactionID != rec.TransactionID {
		t.Fatalf("FindByKey mismatch: %+v", byKey)
	}

	byTxn, err := s.FindByTransactionID(ctx, rec.TransactionID)
	if err != nil {
		t.Fatalf("FindByTransactionID: %v", err)
	}
	if byTxn.LicenseKey != rec.LicenseKey {
		t.Fatalf("FindByTransactionID mismatch: %+v", byTxn)
	}

	if _, err := s.FindByKey(ctx, "CLIP-9999-9999-9999"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown key: want ErrNotFound, got %v", err)
	}
	if _, err := s.FindByTransactionID(ctx, "cs_test_404"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown txn: want ErrNotFound, got %v", err)
	}
}

func TestGormStore_Append_DuplicateTransaction(t *testing.T) {
	s := newGormStore(t, "gs_duptxn")
	ctx := context.Background()

	if err := s.Append(ctx, testLicense("CLIP-AAAA-BBBB-CCCC", "cs_test_1")); err != nil {
		t.Fatalf("first Append: %v", err)
	}
	err := s.Append(ctx, testLicense("CLIP-DDDD-EEEE-FFFF", "cs_test_1"))
	if !errors.Is(err, ErrDuplicateTransaction) {
		t.Fatalf("duplicate txn: want ErrDuplicateTransaction, got %v", err)
	}
}

func TestGormStore_Revoke(t *testing.T) {
	s := newGormStore(t, "gs_revoke")
	ctx := context.Background()

	rec := testLicense("CLIP-AAAA-BBBB-CCCC", "cs_test_1")
	if err := s.Append(ctx, rec); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Revoke(ctx, rec.LicenseKey); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	got, err := s.FindByKey(ctx, rec.LicenseKey)
	if err != nil {
		t.Fatalf("FindByKey: %v", err)
	}
	if got.Status != domain.StatusRevoked {
		t.Fatalf("expected revoked, got %+v", got)
	}
	if err := s.Revoke(ctx, "CLIP-9999-9999-9999"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("revoke unknown: want ErrNotFound, got %v", err)
	}
}

func TestGormStore_Initialized(t *testing.T) {
	s := newGormStore(t, "gs_init")
	ok, err := s.Initialized(context.Background())
	if err != nil || !ok {
		t.Fatalf("migrated schema must count as initialized: %v, %v", ok, err)
	}
}

func TestGormStore_WebhookEventMarkers(t *testing.T) {
	s := newGormStore(t, "gs_events")
	ctx := context.Background()

	seen, err := s.EventProcessed(ctx, "evt_1")
	if err != nil || seen {
		t.Fatalf("unseen event: got %v, %v", seen, err)
	}
	if err := s.MarkEventProcessed(ctx, "evt_1", "checkout.session.completed"); err != nil {
		t.Fatalf("MarkEventProcessed: %v", err)
	}
	// Marking twice must stay idempotent.
	if err := s.MarkEventProcessed(ctx, "evt_1", "checkout.session.completed"); err != nil {
		t.Fatalf("second MarkEventProcessed: %v", err)
	}
	seen, err = s.EventProcessed(ctx, "evt_1")
	if err != nil || !seen {
		t.Fatalf("marked event: got %v, %v", seen, err)
	}
}

func TestGormStore_AttemptLog_BoundAndOrdering(t *testing.T) {
	s := newGormStore(t, "gs_attempts")
	ctx := context.Background()

	// Exercise the trim with a small window by driving repo directly.
	for i := 0; i < 7; i++ {
		a := domain.ValidationAttempt{LicenseKey: fmt.Sprintf("CLIP-%04d-0000-0000", i)}
		if err := repo.RecordAttempt(ctx, s.DB, &a, 5); err != nil {
			t.Fatalf("RecordAttempt %d: %v", i, err)
		}
	}
	total, err := repo.CountAttempts(ctx, s.DB)
	if err != nil {
		t.Fatalf("CountAttempts: %v", err)
	}
	if total != 5 {
		t.Fatalf("trim failed: total = %d, want 5", total)
	}

	// Newest first through the interface.
	page, n, err := s.Recent(ctx, 0, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if n != 5 || len(page) != 2 || page[0].LicenseKey != "CLIP-0006-0000-0000" {
		t.Fatalf("Recent page wrong: n=%d page=%+v", n, page)
	}

	// Record through the interface as well.
	if err := s.Record(ctx, domain.ValidationAttempt{LicenseKey: "CLIP-AAAA-0000-0000"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	page, _, err = s.Recent(ctx, 0, 1)
	if err != nil || len(page) != 1 || page[0].LicenseKey != "CLIP-AAAA-0000-0000" {
		t.Fatalf("Recent after Record: %+v, %v", page, err)
	}
}
