// Package services – LicenseService
//
// This file implements LicenseService, the application-level component that
// owns license issuance. It derives keys, appends records through the
// LicenseStore (which guarantees exactly one license per transaction id), and
// dispatches the delivery email. Duplicate webhook deliveries resolve to the
// already-issued license without side effects.
//
// Observability: public methods are OpenTelemetry-instrumented; spans include
// transaction identifiers but never the derived key material.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cliperton/cliperton-backend/internal/domain"
	"github.com/cliperton/cliperton-backend/internal/keygen"
	"github.com/cliperton/cliperton-backend/internal/mail"
	"github.com/cliperton/cliperton-backend/internal/store"
)

// Purchase carries the fields extracted from a verified
// checkout.session.completed event that issuance needs.
type Purchase struct {
	// TransactionID is the checkout session id; the idempotency key.
	TransactionID string
	// Email receives the license; Name personalizes the delivery mail.
	Email string
	Name  string
	// AmountTotal is in minor currency units as Stripe reports it.
	AmountTotal int64
	Currency    string
}

// LicenseService issues licenses for completed purchases.
type LicenseService struct {
	Store  store.LicenseStore
	Mailer mail.Mailer

	// Salt is the server-held derivation secret. Config validation rejects
	// an empty salt at startup; the service assumes it is present.
	Salt string

	// Now is the clock used for issuance timestamps; tests may pin it.
	Now func() time.Time
}

// NewLicenseService wires a LicenseService with the real clock.
func NewLicenseService(st store.LicenseStore, m mail.Mailer, salt string) *LicenseService {
	return &LicenseService{Store: st, Mailer: m, Salt: salt, Now: time.Now}
}

// Issue creates (or finds) the license for a purchase. The boolean result is
// true when a new record was created on this call.
//
// Semantics:
//   - A record already issued for p.TransactionID is returned as-is; no key
//     is derived and no email is sent (safe webhook retries).
//   - Store failures propagate so the webhook handler can answer retryably.
//   - Mail transport failures do NOT fail issuance: the record is committed
//     and the failure is logged prominently for manual follow-up.
func (s *LicenseService) Issue(ctx context.Context, p Purchase) (*domain.License, bool, error) {
	tr := otel.Tracer("services/LicenseService")
	ctx, span := tr.Start(ctx, "Issue",
		trace.WithAttributes(attribute.String("transaction.id", p.TransactionID)),
	)
	defer span.End()

	p.TransactionID = strings.TrimSpace(p.TransactionID)
	p.Email = strings.TrimSpace(p.Email)
	if p.TransactionID == "" || p.Email == "" {
		return nil, false, ErrInvalidPurchase
	}

	// Idempotency: one license per transaction id, ever.
	if existing, err := s.Store.FindByTransactionID(ctx, p.TransactionID); err == nil {
		log.Info().
			Str("transaction_id", p.TransactionID).
			Str("license_key", existing.LicenseKey).
			Msg("duplicate delivery, license already issued")
		return existing, false, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	issuedAt := s.Now().UTC()
	rec := domain.License{
		LicenseKey:    keygen.Derive(p.Email, issuedAt.Unix(), s.Salt),
		Email:         p.Email,
		TransactionID: p.TransactionID,
		AmountPaid:    float64(p.AmountTotal) / 100,
		Currency:      strings.ToUpper(p.Currency),
		GeneratedAt:   issuedAt,
		Status:        domain.StatusActive,
	}

	if err := s.Store.Append(ctx, rec); err != nil {
		if errors.Is(err, store.ErrDuplicateTransaction) {
			// Lost the race against a concurrent delivery of the same event;
			// the winner's record is the license.
			return s.lookupAfterRace(ctx, p.TransactionID)
		}
		return nil, false, err
	}

	if err := s.Mailer.Send(ctx, p.Email, p.Name, rec.LicenseKey, p.TransactionID); err != nil {
		// The purchase is captured; email is best effort. Loud log for
		// manual remediation.
		log.Error().Err(err).
			Str("email", p.Email).
			Str("transaction_id", p.TransactionID).
			Msg("license issued but delivery email failed")
	} else {
		log.Info().
			Str("email", p.Email).
			Str("transaction_id", p.TransactionID).
			Msg("license email sent")
	}

	return &rec, true, nil
}

func (s *LicenseService) lookupAfterRace(ctx context.Context, transactionID string) (*domain.License, bool, error) {
	existing, err := s.Store.FindByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// EventSeen reports whether a webhook event id was already fully processed.
func (s *LicenseService) EventSeen(ctx context.Context, eventID string) (bool, error) {
	return s.Store.EventProcessed(ctx, eventID)
}

// MarkEvent records a webhook event id as processed. Failures are logged but
// not surfaced: the transaction-id check alone keeps retries safe.
func (s *LicenseService) MarkEvent(ctx context.Context, eventID, eventType string) {
	if err := s.Store.MarkEventProcessed(ctx, eventID, eventType); err != nil {
		log.Warn().Err(err).Str("event_id", eventID).Msg("record processed webhook event")
	}
}
