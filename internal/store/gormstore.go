// GORM/SQLite LicenseStore.
//
// Adapts the repo free functions to the LicenseStore and AttemptLog
// interfaces so the invariants are expressed once, against the interface, and
// the transactional table gives the same atomicity the file variant gets from
// its flock: the duplicate check rides on the unique transaction_id index
// inside the insert itself.
package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/cliperton/cliperton-backend/internal/domain"
	"github.com/cliperton/cliperton-backend/internal/repo"
)

// GormStore implements LicenseStore and AttemptLog over a GORM handle.
type GormStore struct {
	DB *gorm.DB
}

// NewGormStore returns a store over an opened, migrated database.
func NewGormStore(db *gorm.DB) *GormStore { return &GormStore{DB: db} }

// Append inserts the record; a unique violation on transaction_id maps to
// ErrDuplicateTransaction.
func (s *GormStore) Append(ctx context.Context, rec domain.License) error {
	err := repo.CreateLicense(ctx, s.DB, &rec)
	if errors.Is(err, repo.ErrDuplicate) {
		return ErrDuplicateTransaction
	}
	return err
}

// FindByKey proxies repo.GetLicenseByKey.
func (s *GormStore) FindByKey(ctx context.Context, key string) (*domain.License, error) {
	rec, err := repo.GetLicenseByKey(ctx, s.DB, key)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrNotFound
	}
	return rec, err
}

// FindByTransactionID proxies repo.GetLicenseByTransactionID.
func (s *GormStore) FindByTransactionID(ctx context.Context, id string) (*domain.License, error) {
	rec, err := repo.GetLicenseByTransactionID(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrNotFound
	}
	return rec, err
}

// Revoke proxies repo.RevokeLicense.
func (s *GormStore) Revoke(ctx context.Context, key string) error {
	err := repo.RevokeLicense(ctx, s.DB, key)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// Initialized always reports true: a migrated schema is an existing store,
// unlike the file variant where the aggregate only appears on first write.
func (s *GormStore) Initialized(context.Context) (bool, error) { return true, nil }

// MarkEventProcessed proxies repo.MarkWebhookEvent.
func (s *GormStore) MarkEventProcessed(ctx context.Context, id, eventType string) error {
	return repo.MarkWebhookEvent(ctx, s.DB, id, eventType)
}

// EventProcessed proxies repo.WebhookEventExists.
func (s *GormStore) EventProcessed(ctx context.Context, id string) (bool, error) {
	return repo.WebhookEventExists(ctx, s.DB, id)
}

// Record proxies repo.RecordAttempt with the shared bound.
func (s *GormStore) Record(ctx context.Context, a domain.ValidationAttempt) error {
	return repo.RecordAttempt(ctx, s.DB, &a, maxValidationAttempts)
}

// Recent proxies repo.ListAttemptsPage and repo.CountAttempts.
func (s *GormStore) Recent(ctx context.Context, offset, limit int) ([]domain.ValidationAttempt, int, error) {
	total, err := repo.CountAttempts(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	items, err := repo.ListAttemptsPage(ctx, s.DB, offset, limit)
	return items, int(total), err
}
