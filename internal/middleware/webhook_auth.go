package middleware

import (
	"bytes"
	"crypto/subtle"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/hotel-settlement/internal/payment"
)

// maxWebhookBody caps how much of a webhook body is read for verification.
const maxWebhookBody = 1 << 20

// Webhook authentication headers.
const (
	HeaderWebhookSignature = "x-webhook-signature"
	HeaderWebhookSecret    = "x-webhook-secret"
)

// WebhookAuth accepts a gateway callback when x-webhook-signature is the
// hex HMAC-SHA256 of the raw body under the checksum key, or when
// x-webhook-secret equals the configured shared secret. The body is
// restored for the handler.
func WebhookAuth(signer payment.Signer, sharedSecret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			body, err := io.ReadAll(io.LimitReader(req.Body, maxWebhookBody))
			if err != nil {
				return c.JSON(http.StatusBadRequest, echo.Map{"error": "unreadable body"})
			}
			_ = req.Body.Close()
			req.Body = io.NopCloser(bytes.NewReader(body))

			if sig := req.Header.Get(HeaderWebhookSignature); sig != "" && signer.Verify(body, sig) {
				return next(c)
			}
			if sharedSecret != "" {
				got := req.Header.Get(HeaderWebhookSecret)
				if got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(sharedSecret)) == 1 {
					return next(c)
				}
			}
			c.Logger().Warnf("webhook: rejected unauthenticated callback from %s", c.RealIP())
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid webhook signature"})
		}
	}
}
