// Package services – ValidationService
//
// This file implements ValidationService, which answers whether a license key
// is valid and resolves checkout sessions to issued licenses. Business
// rejections (bad format, unknown key, revoked license, email mismatch) are
// normal negative results carrying a machine-readable reason, not errors.
// Infrastructure failures on this path are shaped as "not found" toward the
// caller and logged internally, so clients never see raw diagnostics.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cliperton/cliperton-backend/internal/domain"
	"github.com/cliperton/cliperton-backend/internal/keygen"
	"github.com/cliperton/cliperton-backend/internal/store"
)

// Validation rejection reasons, stable for client branching.
const (
	ReasonFormat        = "format"
	ReasonNotFound      = "not_found"
	ReasonInactive      = "inactive"
	ReasonEmailMismatch = "email_mismatch"
)

// ValidationResult is the outcome of a validation request.
type ValidationResult struct {
	Valid  bool
	Reason string
	// Record is set only for valid results.
	Record *domain.License
}

// Attempt carries the request metadata recorded in the attempt log.
type Attempt struct {
	LicenseKey string
	Email      string
	RemoteIP   string
	UserAgent  string
}

// ValidationService validates license keys against the store and records
// every attempt in the bounded attempt log.
type ValidationService struct {
	Store    store.LicenseStore
	Attempts store.AttemptLog

	// Now is the clock used for attempt timestamps; tests may pin it.
	Now func() time.Time
}

// NewValidationService wires a ValidationService with the real clock.
func NewValidationService(st store.LicenseStore, al store.AttemptLog) *ValidationService {
	return &ValidationService{Store: st, Attempts: al, Now: time.Now}
}

// Validate runs the full check sequence: format gate, store lookup, status
// gate, optional email match. Every attempt is logged regardless of outcome.
func (s *ValidationService) Validate(ctx context.Context, a Attempt) ValidationResult {
	tr := otel.Tracer("services/ValidationService")
	ctx, span := tr.Start(ctx, "Validate")
	defer span.End()

	res := s.validate(ctx, a.LicenseKey, a.Email)
	span.SetAttributes(
		attribute.Bool("license.valid", res.Valid),
		attribute.String("license.reason", res.Reason),
	)

	s.record(ctx, a, res.Valid)
	return res
}

func (s *ValidationService) validate(ctx context.Context, licenseKey, email string) ValidationResult {
	// Format gate runs before any store access.
	if !keygen.ValidFormat(licenseKey) {
		return ValidationResult{Valid: false, Reason: ReasonFormat}
	}

	rec, err := s.Store.FindByKey(ctx, licenseKey)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			// Infrastructure failure; do not leak it to the client.
			log.Error().Err(err).Msg("license lookup failed during validation")
		}
		return ValidationResult{Valid: false, Reason: ReasonNotFound}
	}

	if !rec.IsActive() {
		return ValidationResult{Valid: false, Reason: ReasonInactive}
	}
	if email != "" && rec.Email != email {
		return ValidationResult{Valid: false, Reason: ReasonEmailMismatch}
	}
	return ValidationResult{Valid: true, Record: rec}
}

// record appends to the attempt log. Best effort: a logging failure never
// changes the validation outcome.
func (s *ValidationService) record(ctx context.Context, a Attempt, success bool) {
	err := s.Attempts.Record(ctx, domain.ValidationAttempt{
		Timestamp:  s.Now().UTC(),
		LicenseKey: a.LicenseKey,
		Email:      a.Email,
		Success:    success,
		RemoteIP:   a.RemoteIP,
		UserAgent:  a.UserAgent,
	})
	if err != nil {
		log.Warn().Err(err).Msg("record validation attempt")
	}
}

// LookupBySession resolves a checkout session id to its license. A missing
// record returns ErrLicenseNotFound, which the handler reports as "pending"
// (webhook delivery is asynchronous relative to the purchaser's return).
// Infrastructure failures are logged and shaped the same way.
func (s *ValidationService) LookupBySession(ctx context.Context, transactionID string) (*domain.License, error) {
	rec, err := s.Store.FindByTransactionID(ctx, transactionID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Error().Err(err).Str("transaction_id", transactionID).Msg("session lookup failed")
		}
		return nil, ErrLicenseNotFound
	}
	return rec, nil
}

// StoreReady reports whether the license store has ever been written. The
// session lookup endpoint answers 404 before the first issuance.
func (s *ValidationService) StoreReady(ctx context.Context) bool {
	ok, err := s.Store.Initialized(ctx)
	if err != nil {
		log.Error().Err(err).Msg("license store readiness check failed")
		return false
	}
	return ok
}

// RecentAttempts returns a page of the bounded attempt log, newest first,
// with the total retained count.
func (s *ValidationService) RecentAttempts(ctx context.Context, page, pageSize int) ([]domain.ValidationAttempt, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	return s.Attempts.Recent(ctx, (page-1)*pageSize, pageSize)
}
