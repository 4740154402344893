// Stripe webhook HTTP handler.
//
// This file exposes the payment-provider callback:
//   - POST /webhook/stripe
//
// The raw request body is verified against the Stripe-Signature header before
// anything is parsed; verification fails closed. The handler is transport-thin:
// classification and scope checks happen here, issuance happens in the
// LicenseIssuer service.
//
// Response contract (Stripe retries anything but 2xx):
//   - 200 {"status":"success"} for processed AND ignored events
//   - 400 for signature or payload failures (permanent; retries cannot help)
//   - 500 for store failures (retryable; issuance is idempotent)
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/cliperton/cliperton-backend/internal/config"
	"github.com/cliperton/cliperton-backend/internal/domain"
	"github.com/cliperton/cliperton-backend/internal/http/middleware"
	"github.com/cliperton/cliperton-backend/internal/services"
)

// Webhook event types this backend reacts to.
const (
	eventCheckoutCompleted = "checkout.session.completed"
	eventPaymentSucceeded  = "payment_intent.succeeded"
)

//
// Service contracts (context-aware)
//

// LicenseIssuer defines the issuance operations consumed by the webhook
// handler. Implementations must be safe for concurrent use and idempotent
// per transaction id.
type LicenseIssuer interface {
	// Issue creates or finds the license for a purchase; the bool reports
	// whether this call created it.
	Issue(ctx context.Context, p services.Purchase) (*domain.License, bool, error)
	// EventSeen reports whether the webhook event id was already processed.
	EventSeen(ctx context.Context, eventID string) (bool, error)
	// MarkEvent records a processed webhook event id (best effort).
	MarkEvent(ctx context.Context, eventID, eventType string)
}

// LicenseValidator defines validation and lookup operations consumed by the
// license endpoints (see license_handler.go).
type LicenseValidator interface {
	Validate(ctx context.Context, a services.Attempt) services.ValidationResult
	LookupBySession(ctx context.Context, transactionID string) (*domain.License, error)
	StoreReady(ctx context.Context) bool
	RecentAttempts(ctx context.Context, page, pageSize int) ([]domain.ValidationAttempt, int, error)
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints for webhooks, license validation,
// session lookup, and checkout. It depends on abstract service interfaces to
// keep transport concerns separate from business logic.
type Handlers struct {
	issuer    LicenseIssuer
	validator LicenseValidator
	stripeCfg config.StripeConfig

	// createSession is the Stripe checkout constructor; swapped in tests.
	createSession func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// New constructs a Handlers instance bound to the given services and Stripe
// configuration.
func New(issuer LicenseIssuer, validator LicenseValidator, stripeCfg config.StripeConfig) *Handlers {
	return &Handlers{
		issuer:        issuer,
		validator:     validator,
		stripeCfg:     stripeCfg,
		createSession: session.New,
	}
}

// checkoutSession is the slice of the event payload issuance needs. Decoded
// from event.Data.Raw; the verified raw bytes are never re-serialized.
type checkoutSession struct {
	ID              string `json:"id"`
	AmountTotal     int64  `json:"amount_total"`
	Currency        string `json:"currency"`
	CustomerDetails struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	} `json:"customer_details"`
	Metadata map[string]string `json:"metadata"`
}

// paymentIntent carries the fields inspected for informational
// payment_intent.succeeded events.
type paymentIntent struct {
	ID       string            `json:"id"`
	Metadata map[string]string `json:"metadata"`
}

// StripeWebhook handles POST /webhook/stripe.
func (h *Handlers) StripeWebhook(c *gin.Context) {
	lg := middleware.LoggerFrom(c)

	if h.stripeCfg.WebhookSecret == "" {
		fail(c, http.StatusInternalServerError, ErrCodeStripeUnavailable, "webhook secret is not configured")
		return
	}

	// The signature covers the exact bytes on the wire; read them once and
	// verify before any decoding.
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeInvalidPayload, "failed to read request body")
		return
	}
	event, err := webhook.ConstructEventWithOptions(
		payload,
		c.GetHeader("Stripe-Signature"),
		h.stripeCfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		lg.Warn().Err(err).Msg("webhook signature verification failed")
		fail(c, http.StatusBadRequest, ErrCodeInvalidSignature, "invalid signature")
		return
	}

	ctx := c.Request.Context()

	if seen, err := h.issuer.EventSeen(ctx, event.ID); err == nil && seen {
		lg.Info().Str("event_id", event.ID).Str("type", string(event.Type)).
			Msg("webhook event already processed")
		ackSuccess(c)
		return
	}

	switch string(event.Type) {
	case eventCheckoutCompleted:
		var sess checkoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeInvalidPayload, "malformed checkout session payload")
			return
		}
		if sess.Metadata["product_type"] != h.stripeCfg.ProductType {
			lg.Info().Str("event_id", event.ID).Str("session_id", sess.ID).
				Msg("checkout session for another product, ignoring")
			break
		}
		rec, created, err := h.issuer.Issue(ctx, services.Purchase{
			TransactionID: sess.ID,
			Email:         sess.CustomerDetails.Email,
			Name:          sess.CustomerDetails.Name,
			AmountTotal:   sess.AmountTotal,
			Currency:      sess.Currency,
		})
		if err != nil {
			if errors.Is(err, services.ErrInvalidPurchase) {
				fail(c, http.StatusBadRequest, ErrCodeInvalidPayload, "checkout session is missing purchaser details")
				return
			}
			// Store failure: answer retryably; issuance is idempotent so the
			// redelivery cannot double-issue.
			fail(c, http.StatusInternalServerError, ErrCodeWebhookFailed, "webhook processing failed")
			return
		}
		h.issuer.MarkEvent(ctx, event.ID, string(event.Type))
		middleware.CountIssued(created)
		lg.Info().
			Str("event_id", event.ID).
			Str("session_id", sess.ID).
			Str("license_key", rec.LicenseKey).
			Bool("created", created).
			Msg("license issued for checkout session")

	case eventPaymentSucceeded:
		var pi paymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err == nil &&
			pi.Metadata["product_type"] == h.stripeCfg.ProductType {
			// License is issued from checkout.session.completed; this event
			// is informational.
			lg.Info().Str("payment_intent", pi.ID).Msg("payment confirmed")
		}

	default:
		lg.Info().Str("event_id", event.ID).Str("type", string(event.Type)).
			Msg("unhandled webhook event type")
	}

	ackSuccess(c)
}

// ackSuccess acknowledges a webhook so the provider stops retrying.
func ackSuccess(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{"status": "success"})
}
