package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cliperton/cliperton-backend/internal/config"
	"github.com/cliperton/cliperton-backend/internal/domain"
	"github.com/cliperton/cliperton-backend/internal/services"
)

const (
	testWebhookSecret = "whsec_test_secret"
	testProductType   = "cliperton_pro_license"
)

// --- stubs ---

type stubIssuer struct {
	rec     *domain.License
	created bool
	err     error

	issued  []services.Purchase
	seen    map[string]bool
	seenErr error
	marked  []string
}

func (s *stubIssuer) Issue(_ context.Context, p services.Purchase) (*domain.License, bool, error) {
	s.issued = append(s.issued, p)
	if s.err != nil {
		return nil, false, s.err
	}
	if s.rec != nil {
		return s.rec, s.created, nil
	}
	return &domain.License{
		LicenseKey:    "CLIP-AAAA-BBBB-CCCC",
		Email:         p.Email,
		TransactionID: p.TransactionID,
		Status:        domain.StatusActive,
	}, true, nil
}

func (s *stubIssuer) EventSeen(_ context.Context, id string) (bool, error) {
	if s.seenErr != nil {
		return false, s.seenErr
	}
	return s.seen[id], nil
}

func (s *stubIssuer) MarkEvent(_ context.Context, id, _ string) {
	s.marked = append(s.marked, id)
}

type stubValidator struct {
	res         services.ValidationResult
	lastAttempt services.Attempt

	lookupRec *domain.License
	lookupErr error
	ready     bool

	attempts      []domain.ValidationAttempt
	attemptsTotal int
	attemptsErr   error
}

func (s *stubValidator) Validate(_ context.Context, a services.Attempt) services.ValidationResult {
	s.lastAttempt = a
	return s.res
}

func (s *stubValidator) LookupBySession(context.Context, string) (*domain.License, error) {
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	return s.lookupRec, nil
}

func (s *stubValidator) StoreReady(context.Context) bool { return s.ready }

func (s *stubValidator) RecentAttempts(_ context.Context, page, pageSize int) ([]domain.ValidationAttempt, int, error) {
	if s.attemptsErr != nil {
		return nil, 0, s.attemptsErr
	}
	return s.attempts, s.attemptsTotal, nil
}

// --- helpers ---

func testStripeCfg() config.StripeConfig {
	return config.StripeConfig{
		SecretKey:     "sk_test_123",
		WebhookSecret: testWebhookSecret,
		ProductType:   testProductType,
	}
}

func newWebhookRig(issuer *stubIssuer) (*Handlers, *gin.Engine) {
	gin.SetMode(gin.TestMode)
	h := New(issuer, &stubValidator{}, testStripeCfg())
	r := gin.New()
	r.POST("/webhook/stripe", h.StripeWebhook)
	return h, r
}

// signStripe builds a Stripe-Signature header over payload using the v1 HMAC
// scheme the SDK verifies.
func signStripe(payload []byte, secret string, at time.Time) string {
	ts := at.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

// stripeEvent assembles a minimal event envelope around the object payload.
func stripeEvent(id, eventType string, object any) []byte {
	raw, _ := json.Marshal(object)
	evt := map[string]any{
		"id":   id,
		"type": eventType,
		"data": map[string]any{"object": json.RawMessage(raw)},
	}
	out, _ := json.Marshal(evt)
	return out
}

func checkoutObject(sessionID, email, name string, amount int64, productType string) map[string]any {
	return map[string]any{
		"id":           sessionID,
		"amount_total": amount,
		"currency":     "usd",
		"customer_details": map[string]any{
			"email": email,
			"name":  name,
		},
		"metadata": map[string]string{"product_type": productType},
	}
}

func postWebhook(r *gin.Engine, payload []byte, sig string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook/stripe", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if sig != "" {
		req.Header.Set("Stripe-Signature", sig)
	}
	r.ServeHTTP(w, req)
	return w
}

// --- tests ---

func TestStripeWebhook_CheckoutCompleted_IssuesLicense(t *testing.T) {
	issuer := &stubIssuer{seen: map[string]bool{}}
	_, r := newWebhookRig(issuer)

	payload := stripeEvent("evt_1", "checkout.session.completed",
		checkoutObject("cs_test_1", "buyer@example.com", "Buyer", 999, testProductType))
	w := postWebhook(r, payload, signStripe(payload, testWebhookSecret, time.Now()))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp["status"] != "success" {
		t.Fatalf("ack body = %s", w.Body.String())
	}
	if len(issuer.issued) != 1 {
		t.Fatalf("issued %d times, want 1", len(issuer.issued))
	}
	p := issuer.issued[0]
	if p.TransactionID != "cs_test_1" || p.Email != "buyer@example.com" || p.Name != "Buyer" ||
		p.AmountTotal != 999 || p.Currency != "usd" {
		t.Fatalf("purchase fields: %+v", p)
	}
	if len(issuer.marked) != 1 || issuer.marked[0] != "evt_1" {
		t.Fatalf("event not marked: %v", issuer.marked)
	}
}

func TestStripeWebhook_BadSignature(t *testing.T) {
	issuer := &stubIssuer{seen: map[string]bool{}}
	_, r := newWebhookRig(issuer)

	payload := stripeEvent("evt_1", "checkout.session.completed",
		checkoutObject("cs_test_1", "buyer@example.com", "Buyer", 999, testProductType))

	// Missing header.
	if w := postWebhook(r, payload, ""); w.Code != http.StatusBadRequest {
		t.Fatalf("missing sig: status = %d", w.Code)
	}
	// Wrong secret.
	if w := postWebhook(r, payload, signStripe(payload, "whsec_other", time.Now())); w.Code != http.StatusBadRequest {
		t.Fatalf("wrong secret: status = %d", w.Code)
	}
	// Stale timestamp (beyond default tolerance).
	if w := postWebhook(r, payload, signStripe(payload, testWebhookSecret, time.Now().Add(-time.Hour))); w.Code != http.StatusBadRequest {
		t.Fatalf("stale sig: status = %d", w.Code)
	}
	// Tampered body after signing.
	sig := signStripe(payload, testWebhookSecret, time.Now())
	tampered := bytes.Replace(payload, []byte("buyer@example.com"), []byte("thief@example.com"), 1)
	if w := postWebhook(r, tampered, sig); w.Code != http.StatusBadRequest {
		t.Fatalf("tampered body: status = %d", w.Code)
	}

	if len(issuer.issued) != 0 {
		t.Fatalf("no issuance on rejected deliveries, got %d", len(issuer.issued))
	}
}

func TestStripeWebhook_MissingSecretConfig(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := testStripeCfg()
	cfg.WebhookSecret = ""
	h := New(&stubIssuer{}, &stubValidator{}, cfg)
	r := gin.New()
	r.POST("/webhook/stripe", h.StripeWebhook)

	payload := []byte(`{}`)
	w := postWebhook(r, payload, signStripe(payload, testWebhookSecret, time.Now()))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 when secret missing", w.Code)
	}
}

func TestStripeWebhook_DuplicateEvent_AckedWithoutIssue(t *testing.T) {
	issuer := &stubIssuer{seen: map[string]bool{"evt_1": true}}
	_, r := newWebhookRig(issuer)

	payload := stripeEvent("evt_1", "checkout.session.completed",
		checkoutObject("cs_test_1", "buyer@example.com", "Buyer", 999, testProductType))
	w := postWebhook(r, payload, signStripe(payload, testWebhookSecret, time.Now()))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if len(issuer.issued) != 0 {
		t.Fatalf("duplicate event must not reach issuance")
	}
}

func TestStripeWebhook_OtherProduct_Ignored(t *testing.T) {
	issuer := &stubIssuer{seen: map[string]bool{}}
	_, r := newWebhookRig(issuer)

	payload := stripeEvent("evt_1", "checkout.session.completed",
		checkoutObject("cs_test_1", "buyer@example.com", "Buyer", 999, "some_other_product"))
	w := postWebhook(r, payload, signStripe(payload, testWebhookSecret, time.Now()))

	if w.Code != http.StatusOK {
		t.Fatalf("out-of-scope events must still ack: status = %d", w.Code)
	}
	if len(issuer.issued) != 0 {
		t.Fatalf("out-of-scope event must not issue")
	}
}

func TestStripeWebhook_UnhandledEventType_Acked(t *testing.T) {
	issuer := &stubIssuer{seen: map[string]bool{}}
	_, r := newWebhookRig(issuer)

	payload := stripeEvent("evt_1", "customer.created", map[string]any{"id": "cus_1"})
	w := postWebhook(r, payload, signStripe(payload, testWebhookSecret, time.Now()))
	if w.Code != http.StatusOK {
		t.Fatalf("unhandled type must ack: status = %d", w.Code)
	}
}

func TestStripeWebhook_PaymentIntentSucceeded_Acked(t *testing.T) {
	issuer := &stubIssuer{seen: map[string]bool{}}
	_, r := newWebhookRig(issuer)

	payload := stripeEvent("evt_1", "payment_intent.succeeded", map[string]any{
		"id":       "pi_1",
		"metadata": map[string]string{"product_type": testProductType},
	})
	w := postWebhook(r, payload, signStripe(payload, testWebhookSecret, time.Now()))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if len(issuer.issued) != 0 {
		t.Fatalf("payment_intent events are informational, issued=%d", len(issuer.issued))
	}
}

func TestStripeWebhook_StoreFailure_RetryableStatus(t *testing.T) {
	issuer := &stubIssuer{seen: map[string]bool{}, err: errors.New("disk full")}
	_, r := newWebhookRig(issuer)

	payload := stripeEvent("evt_1", "checkout.session.completed",
		checkoutObject("cs_test_1", "buyer@example.com", "Buyer", 999, testProductType))
	w := postWebhook(r, payload, signStripe(payload, testWebhookSecret, time.Now()))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("store failure must be 500 so Stripe retries, got %d", w.Code)
	}
	if len(issuer.marked) != 0 {
		t.Fatalf("failed processing must not mark the event")
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Code != ErrCodeWebhookFailed {
		t.Fatalf("error envelope = %s", w.Body.String())
	}
}

func TestStripeWebhook_InvalidPurchase_PermanentStatus(t *testing.T) {
	issuer := &stubIssuer{seen: map[string]bool{}, err: services.ErrInvalidPurchase}
	_, r := newWebhookRig(issuer)

	// Session with no purchaser email.
	payload := stripeEvent("evt_1", "checkout.session.completed",
		checkoutObject("cs_test_1", "", "", 999, testProductType))
	w := postWebhook(r, payload, signStripe(payload, testWebhookSecret, time.Now()))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid purchase is permanent, want 400, got %d", w.Code)
	}
}
