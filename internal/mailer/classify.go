package mailer

import (
	"errors"
	"net/textproto"
	"strings"
)

// Outcome is a stable delivery label for metrics and logs.
type Outcome string

const (
	OutcomeSent               Outcome = "sent"
	OutcomeMissingCredentials Outcome = "missing_credentials"
	OutcomeAuthFailed         Outcome = "auth_failed"
	OutcomeDeliveryFailed     Outcome = "delivery_failed"
)

// smtpAuthFailedPrefix is how go-mail wraps a rejected AUTH exchange.
const smtpAuthFailedPrefix = "SMTP AUTH failed"

// Classify maps a delivery error to an Outcome. Credential rejection is
// recognized by SMTP reply code (530, 534, 535) or by go-mail's
// "SMTP AUTH failed" wrapping, independent of which stage produced it.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeSent
	}
	if errors.Is(err, ErrMissingCredentials) {
		return OutcomeMissingCredentials
	}
	if errors.Is(err, ErrAuthentication) {
		return OutcomeAuthFailed
	}

	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		switch tpErr.Code {
		case 530, 534, 535:
			return OutcomeAuthFailed
		}
	}

	if strings.Contains(err.Error(), smtpAuthFailedPrefix) {
		return OutcomeAuthFailed
	}
	return OutcomeDeliveryFailed
}
