// Checkout HTTP handler.
//
// This file exposes the checkout-session pass-through used by the storefront:
//   - POST /checkout/session
//
// It forwards the storefront's parameters to Stripe's hosted checkout and
// stamps the product metadata the webhook handler later scope-checks. The
// provider's checkout flow itself is untouched.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v82"

	"github.com/cliperton/cliperton-backend/internal/http/middleware"
)

// checkoutSessionExpiry is how long a created checkout session stays payable.
const checkoutSessionExpiry = 24 * time.Hour

// CreateCheckoutRequest is the JSON payload for creating a checkout session.
type CreateCheckoutRequest struct {
	Product     string `json:"product" binding:"required"`
	Price       int64  `json:"price" binding:"required,gt=0"` // minor units
	Currency    string `json:"currency" binding:"required"`
	ProductName string `json:"productName" binding:"required"`
	SuccessURL  string `json:"successUrl" binding:"required,url"`
	CancelURL   string `json:"cancelUrl" binding:"required,url"`
}

// CreateCheckoutResponse returns the hosted checkout session for redirect.
type CreateCheckoutResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CreateCheckoutSession handles POST /checkout/session.
func (h *Handlers) CreateCheckoutSession(c *gin.Context) {
	if h.stripeCfg.SecretKey == "" {
		fail(c, http.StatusInternalServerError, ErrCodeStripeUnavailable, "payment provider is not configured")
		return
	}

	var req CreateCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid checkout request")
		return
	}

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(req.Currency),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name:        stripe.String(req.ProductName),
					Description: stripe.String("Unlock save/load features for Cliperton clipboard manager"),
				},
				UnitAmount: stripe.Int64(req.Price),
			},
			Quantity: stripe.Int64(1),
		}},
		SuccessURL:       stripe.String(req.SuccessURL),
		CancelURL:        stripe.String(req.CancelURL),
		CustomerCreation: stripe.String(string(stripe.CheckoutSessionCustomerCreationAlways)),
		ExpiresAt:        stripe.Int64(time.Now().Add(checkoutSessionExpiry).Unix()),
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{
				"product_type": h.stripeCfg.ProductType,
			},
		},
	}
	params.AddMetadata("product_type", h.stripeCfg.ProductType)
	params.AddMetadata("product_id", req.Product)

	sess, err := h.createSession(params)
	if err != nil {
		lg := middleware.LoggerFrom(c)
		lg.Error().Err(err).Str("product", req.Product).Msg("checkout session creation failed")
		fail(c, http.StatusInternalServerError, ErrCodeCheckoutFailed, "payment processing error")
		return
	}

	lg := middleware.LoggerFrom(c)
	lg.Info().Str("session_id", sess.ID).Str("product", req.Product).Msg("checkout session created")

	ok(c, http.StatusOK, CreateCheckoutResponse{ID: sess.ID, URL: sess.URL})
}
