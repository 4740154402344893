// License HTTP handlers.
//
// This file exposes the endpoints consumed by the desktop app and the
// purchase success page:
//   - POST /license/validate   (key validation; business outcomes are 200)
//   - GET  /license            (session lookup; found or pending)
//   - GET  /license/attempts   (ops view over the bounded attempt log)
//
// Handlers are transport-thin: they validate input, call the validation
// service, and translate results into HTTP responses. Business rejections
// (bad format, unknown key, revoked license, email mismatch) are normal
// negative results, never HTTP errors.
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cliperton/cliperton-backend/internal/domain"
	"github.com/cliperton/cliperton-backend/internal/http/middleware"
	"github.com/cliperton/cliperton-backend/internal/services"
	"github.com/cliperton/cliperton-backend/internal/utils"
)

//
// DTOs
//

// ValidateLicenseRequest is the JSON payload for license validation.
type ValidateLicenseRequest struct {
	// LicenseKey in the form CLIP-XXXX-XXXX-XXXX.
	LicenseKey string `json:"license_key" example:"CLIP-A1B2-C3D4-E5F6"`
	// Email optionally pins the key to the purchase address.
	Email string `json:"email,omitempty" example:"jane@example.com"`
}

// ValidateLicenseResponse reports the validation outcome. Reason is present
// only for negative results; purchase fields only for positive ones.
type ValidateLicenseResponse struct {
	Valid       bool       `json:"valid"`
	Reason      string     `json:"reason,omitempty" example:"not_found"`
	Message     string     `json:"message,omitempty"`
	Email       string     `json:"email,omitempty"`
	GeneratedAt *time.Time `json:"generated_at,omitempty"`
	AmountPaid  float64    `json:"amount_paid,omitempty"`
	Currency    string     `json:"currency,omitempty"`
}

// SessionLookupResponse reports whether a license exists yet for a checkout
// session. Webhook delivery is asynchronous, so "pending" is a normal state
// the success page polls through.
type SessionLookupResponse struct {
	Status      string     `json:"status" example:"found"`
	Message     string     `json:"message,omitempty"`
	LicenseKey  string     `json:"license_key,omitempty"`
	Email       string     `json:"email,omitempty"`
	GeneratedAt *time.Time `json:"generated_at,omitempty"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int  `json:"page"`
	PageSize   int  `json:"page_size"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
}

// ListAttemptsResponse wraps a page of validation attempts.
type ListAttemptsResponse struct {
	Attempts   []domain.ValidationAttempt `json:"attempts"`
	Pagination Pagination                 `json:"pagination"`
}

// reasonMessages maps rejection reasons to the human-readable text the
// desktop app shows next to its own handling of the reason code.
var reasonMessages = map[string]string{
	services.ReasonFormat:        "invalid license key format",
	services.ReasonNotFound:      "license key not found",
	services.ReasonInactive:      "license is not active",
	services.ReasonEmailMismatch: "email does not match license record",
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

//
// Handlers
//

// ValidateLicense handles POST /license/validate.
//
// Only a missing key is an HTTP error (400); every business outcome answers
// 200 so the desktop app can branch on the reason code.
func (h *Handlers) ValidateLicense(c *gin.Context) {
	var req ValidateLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	req.LicenseKey = strings.TrimSpace(req.LicenseKey)
	if req.LicenseKey == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "license key is required")
		return
	}

	res := h.validator.Validate(c.Request.Context(), services.Attempt{
		LicenseKey: req.LicenseKey,
		Email:      strings.TrimSpace(req.Email),
		RemoteIP:   c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	})

	if !res.Valid {
		middleware.CountValidation(res.Reason)
		ok(c, http.StatusOK, ValidateLicenseResponse{
			Valid:   false,
			Reason:  res.Reason,
			Message: reasonMessages[res.Reason],
		})
		return
	}

	middleware.CountValidation("valid")
	gen := res.Record.GeneratedAt
	ok(c, http.StatusOK, ValidateLicenseResponse{
		Valid:       true,
		Email:       res.Record.Email,
		GeneratedAt: &gen,
		AmountPaid:  res.Record.AmountPaid,
		Currency:    res.Record.Currency,
	})
}

// SessionLookup handles GET /license?session_id=...
//
// Answers 404 only when the store has never been written; a store that exists
// but has no record for the session yet reports "pending" for the success
// page to poll.
func (h *Handlers) SessionLookup(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Query("session_id"))
	if sessionID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "missing session_id parameter")
		return
	}

	ctx := c.Request.Context()
	if !h.validator.StoreReady(ctx) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "license not found")
		return
	}

	rec, err := h.validator.LookupBySession(ctx, sessionID)
	if err != nil {
		ok(c, http.StatusOK, SessionLookupResponse{
			Status:  "pending",
			Message: "License is being generated. Please check your email or refresh in a moment.",
		})
		return
	}

	gen := rec.GeneratedAt
	ok(c, http.StatusOK, SessionLookupResponse{
		Status:      "found",
		LicenseKey:  rec.LicenseKey,
		Email:       rec.Email,
		GeneratedAt: &gen,
	})
}

// ListAttempts handles GET /license/attempts (paginated, newest first).
func (h *Handlers) ListAttempts(c *gin.Context) {
	page, pageSize := clampPagination(c)

	items, total, err := h.validator.RecentAttempts(c.Request.Context(), page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to list validation attempts")
		return
	}
	if items == nil {
		items = []domain.ValidationAttempt{}
	}

	totalPages := (total + pageSize - 1) / pageSize
	ok(c, http.StatusOK, ListAttemptsResponse{
		Attempts: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}
