package stripe

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/stripe/stripe-go/v75"
	"github.com/stripe/stripe-go/v75/webhook"

	"subscription-billing/internal/domain/apperr"
	"subscription-billing/internal/domain/money"
	"subscription-billing/internal/gateway"
)

// VerifyAndExtract checks the Stripe-Signature header (HMAC over timestamp
// and body) and normalizes payment_intent events.
func (a *Adapter) VerifyAndExtract(_ context.Context, body []byte, headers http.Header) (*gateway.SettlementEvent, error) {
	event, err := webhook.ConstructEventWithOptions(
		body,
		headers.Get("Stripe-Signature"),
		a.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		return nil, apperr.Verification("stripe signature: %v", err)
	}

	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed", "payment_intent.canceled":
	default:
		return &gateway.SettlementEvent{Provider: Provider, EventID: event.ID, EventType: string(event.Type)}, gateway.ErrEventIgnored
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, apperr.Validation("invalid_payload", "stripe payment_intent: %v", err)
	}

	currency := money.Normalize(string(pi.Currency))
	outcome, ok := NormalizeIntentStatus(string(pi.Status))
	if event.Type == "payment_intent.payment_failed" {
		outcome, ok = gateway.EventFailed, true
	}
	if !ok {
		return &gateway.SettlementEvent{Provider: Provider, EventID: event.ID, EventType: string(event.Type), ProviderTransactionID: pi.ID}, gateway.ErrEventIgnored
	}

	minor := pi.Amount
	if outcome == gateway.EventSucceeded && pi.AmountReceived > 0 {
		minor = pi.AmountReceived
	}
	amount, err := money.FromMinor(minor, currency)
	if err != nil {
		return nil, apperr.Validation("invalid_currency", "stripe event currency: %v", err)
	}

	ev := &gateway.SettlementEvent{
		Provider:              Provider,
		EventID:               event.ID,
		EventType:             string(event.Type),
		ProviderTransactionID: pi.ID,
		Outcome:               outcome,
		Amount:                amount,
		Currency:              currency,
		Raw:                   body,
	}
	if pi.LatestCharge != nil {
		ev.ProviderReference = pi.LatestCharge.ID
	}
	if pi.LastPaymentError != nil {
		ev.FailureReason = pi.LastPaymentError.Msg
	}
	if outcome == gateway.EventFailed && ev.FailureReason == "" {
		ev.FailureReason = string(pi.Status)
	}
	return ev, nil
}
