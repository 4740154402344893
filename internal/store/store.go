// Package store defines the persistence contract for license records and the
// validation attempt log, together with a flat-file implementation (parity
// with the original deployment) and a GORM/SQLite implementation. Invariants
// such as one-license-per-transaction and atomic check-then-append are
// expressed against the LicenseStore interface, not the storage medium.
package store

import (
	"context"
	"errors"

	"github.com/cliperton/cliperton-backend/internal/domain"
)

// Sentinel errors shared by all store implementations.
var (
	// ErrNotFound is returned when no record matches the given key or
	// transaction id.
	ErrNotFound = errors.New("license not found")

	// ErrDuplicateTransaction is returned by Append when a license already
	// exists for the record's transaction id. Callers on the webhook path
	// treat it as success (the event was already processed).
	ErrDuplicateTransaction = errors.New("transaction already has a license")
)

// LicenseStore persists license records. Append must be atomic with respect
// to concurrent appends for the same transaction id: the duplicate check and
// the write happen inside one exclusive section (file lock or DB transaction).
type LicenseStore interface {
	// Append durably persists a new record. It returns
	// ErrDuplicateTransaction when a record for rec.TransactionID exists.
	Append(ctx context.Context, rec domain.License) error

	// FindByKey returns the record for the given license key, or ErrNotFound.
	FindByKey(ctx context.Context, key string) (*domain.License, error)

	// FindByTransactionID returns the record issued for the given checkout
	// session id, or ErrNotFound. Used for idempotency and session lookup.
	FindByTransactionID(ctx context.Context, id string) (*domain.License, error)

	// Revoke transitions an active license to revoked. Revoking an already
	// revoked license is a no-op. Returns ErrNotFound for unknown keys.
	Revoke(ctx context.Context, key string) error

	// Initialized reports whether the backing store has ever been written.
	// The session lookup endpoint answers 404 when it has not.
	Initialized(ctx context.Context) (bool, error)

	// MarkEventProcessed records that the given webhook event id completed
	// processing; EventProcessed reports whether it did. Best-effort
	// bookkeeping on top of the transaction-id idempotency check.
	MarkEventProcessed(ctx context.Context, id, eventType string) error
	EventProcessed(ctx context.Context, id string) (bool, error)
}

// AttemptLog records license validation attempts, keeping only the most
// recent maxValidationAttempts entries. Purely observational.
type AttemptLog interface {
	// Record appends one attempt, evicting the oldest entry beyond the bound.
	Record(ctx context.Context, a domain.ValidationAttempt) error

	// Recent returns a page of attempts, newest first, plus the total count.
	Recent(ctx context.Context, offset, limit int) ([]domain.ValidationAttempt, int, error)
}

// maxValidationAttempts bounds the attempt log in every implementation.
const maxValidationAttempts = 1000
