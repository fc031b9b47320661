package stripe

import (
	"strings"

	"subscription-billing/internal/gateway"
)

// NormalizeIntentStatus maps a Stripe PaymentIntent status onto a settlement
// outcome. ok is false for statuses that are still in flight.
func NormalizeIntentStatus(s string) (gateway.EventOutcome, bool) {
	switch strings.TrimSpace(s) {
	case "succeeded":
		return gateway.EventSucceeded, true
	case "canceled", "requires_payment_method":
		return gateway.EventFailed, true
	default:
		return "", false
	}
}
