package paypal

import (
	"context"
	"encoding/json"
	"net/http"

	"subscription-billing/internal/domain/apperr"
	"subscription-billing/internal/domain/money"
	"subscription-billing/internal/gateway"
)

var transmissionHeaders = []string{
	"PAYPAL-AUTH-ALGO",
	"PAYPAL-CERT-URL",
	"PAYPAL-TRANSMISSION-ID",
	"PAYPAL-TRANSMISSION-SIG",
	"PAYPAL-TRANSMISSION-TIME",
}

type webhookEvent struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID                string `json:"id"`
		Status            string `json:"status"`
		CustomID          string `json:"custom_id"`
		Amount            amount `json:"amount"`
		SupplementaryData struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
		StatusDetails struct {
			Reason string `json:"reason"`
		} `json:"status_details"`
	} `json:"resource"`
}

type verifyResponse struct {
	VerificationStatus string `json:"verification_status"`
}

// VerifyAndExtract asks PayPal to verify the transmission signature, then
// normalizes capture events. The settlement key is the PayPal order id the
// capture belongs to, which is what CreateIntent bound the payment to.
func (a *Adapter) VerifyAndExtract(ctx context.Context, body []byte, headers http.Header) (*gateway.SettlementEvent, error) {
	for _, h := range transmissionHeaders {
		if headers.Get(h) == "" {
			return nil, apperr.Verification("paypal: missing %s header", h)
		}
	}
	if !json.Valid(body) {
		return nil, apperr.Verification("paypal: body is not json")
	}

	req := map[string]any{
		"auth_algo":         headers.Get("PAYPAL-AUTH-ALGO"),
		"cert_url":          headers.Get("PAYPAL-CERT-URL"),
		"transmission_id":   headers.Get("PAYPAL-TRANSMISSION-ID"),
		"transmission_sig":  headers.Get("PAYPAL-TRANSMISSION-SIG"),
		"transmission_time": headers.Get("PAYPAL-TRANSMISSION-TIME"),
		"webhook_id":        a.cfg.WebhookID,
		"webhook_event":     json.RawMessage(body),
	}
	var vr verifyResponse
	if err := a.do(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", "", req, &vr); err != nil {
		return nil, gateway.ProviderError(Provider, err)
	}
	if vr.VerificationStatus != "SUCCESS" {
		return nil, apperr.Verification("paypal: verification status %q", vr.VerificationStatus)
	}

	var ev webhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, apperr.Validation("invalid_payload", "paypal event: %v", err)
	}

	var outcome gateway.EventOutcome
	switch ev.EventType {
	case "CHECKOUT.ORDER.APPROVED":
		return a.captureApproved(ctx, ev.ID, ev.EventType, ev.Resource.ID, body)
	case "PAYMENT.CAPTURE.COMPLETED":
		outcome = gateway.EventSucceeded
	case "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.DECLINED":
		outcome = gateway.EventFailed
	default:
		return &gateway.SettlementEvent{Provider: Provider, EventID: ev.ID, EventType: ev.EventType}, gateway.ErrEventIgnored
	}

	orderID := ev.Resource.SupplementaryData.RelatedIDs.OrderID
	if orderID == "" {
		return nil, apperr.Validation("invalid_payload", "paypal capture %s has no related order", ev.Resource.ID)
	}
	currency := money.Normalize(ev.Resource.Amount.CurrencyCode)
	value, err := money.Parse(ev.Resource.Amount.Value)
	if err != nil {
		return nil, apperr.Validation("invalid_payload", "paypal amount: %v", err)
	}

	out := &gateway.SettlementEvent{
		Provider:              Provider,
		EventID:               ev.ID,
		EventType:             ev.EventType,
		ProviderTransactionID: orderID,
		ProviderReference:     ev.Resource.ID,
		Outcome:               outcome,
		Amount:                value,
		Currency:              currency,
		Raw:                   body,
	}
	if outcome == gateway.EventFailed {
		out.FailureReason = ev.Resource.StatusDetails.Reason
		if out.FailureReason == "" {
			out.FailureReason = ev.Resource.Status
		}
	}
	return out, nil
}
