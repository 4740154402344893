// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file marks payment-provider webhook traffic for rate-limit bypass.
// Stripe retries failed deliveries on its own schedule; throttling those
// retries only delays license issuance, and the webhook endpoint is already
// authenticated by signature verification rather than by rate limiting.
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// ctxKeyRateBypass flags a request so the rate limiter skips it.
// Referenced by IsRateBypass in ratelimit.go.
const ctxKeyRateBypass = "rate.bypass"

// RateBypass returns a middleware that sets the bypass flag for requests
// whose path starts with any of the given prefixes. Install it before the
// rate limiter.
func RateBypass(pathPrefixes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := c.Request.URL.Path
		for _, prefix := range pathPrefixes {
			if strings.HasPrefix(p, prefix) {
				c.Set(ctxKeyRateBypass, true)
				break
			}
		}
		c.Next()
	}
}
