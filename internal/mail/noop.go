package mail

import (
	"context"

	"github.com/rs/zerolog/log"
)

// NoopMailer satisfies Mailer without sending anything. Used when MAIL_ENABLED
// is off (local development, tests against a real store). It logs enough to
// hand-deliver a key if needed.
type NoopMailer struct{}

// Send logs the would-be delivery and succeeds.
func (NoopMailer) Send(_ context.Context, email, _, licenseKey, transactionID string) error {
	log.Info().
		Str("email", email).
		Str("license_key", licenseKey).
		Str("transaction_id", transactionID).
		Msg("mail disabled, skipping license email")
	return nil
}
