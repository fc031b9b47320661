package paypal

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"subscription-billing/internal/domain/apperr"
	"subscription-billing/internal/domain/money"
	"subscription-billing/internal/gateway"
)

type captureResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				ID            string `json:"id"`
				Status        string `json:"status"`
				Amount        amount `json:"amount"`
				StatusDetails struct {
					Reason string `json:"reason"`
				} `json:"status_details"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

// captureApproved captures an order the payer has approved. The request id
// is derived from the order id so a redelivered approval never captures
// twice. A completed capture settles right away; a pending one is left to
// the PAYMENT.CAPTURE.COMPLETED webhook that follows it.
func (a *Adapter) captureApproved(ctx context.Context, eventID, eventType, orderID string, raw []byte) (*gateway.SettlementEvent, error) {
	ignored := &gateway.SettlementEvent{Provider: Provider, EventID: eventID, EventType: eventType, ProviderTransactionID: orderID}
	if orderID == "" {
		return nil, apperr.Validation("invalid_payload", "paypal approval without order id")
	}

	var out captureResponse
	err := a.do(ctx, http.MethodPost, "/v2/checkout/orders/"+orderID+"/capture", "capture-"+orderID, map[string]any{}, &out)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnprocessableEntity && strings.Contains(apiErr.Body, "ORDER_ALREADY_CAPTURED") {
			a.log.Info("order already captured", zap.String("order_id", orderID))
			return ignored, gateway.ErrEventIgnored
		}
		return nil, gateway.ProviderError(Provider, err)
	}
	if len(out.PurchaseUnits) == 0 || len(out.PurchaseUnits[0].Payments.Captures) == 0 {
		return nil, gateway.ProviderError(Provider, &apiError{Status: http.StatusOK, Body: "capture response without captures"})
	}
	capture := out.PurchaseUnits[0].Payments.Captures[0]

	var outcome gateway.EventOutcome
	switch capture.Status {
	case "COMPLETED":
		outcome = gateway.EventSucceeded
	case "DECLINED", "FAILED":
		outcome = gateway.EventFailed
	default:
		a.log.Info("capture not final yet",
			zap.String("order_id", orderID),
			zap.String("capture_id", capture.ID),
			zap.String("status", capture.Status),
		)
		return ignored, gateway.ErrEventIgnored
	}

	value, err := money.Parse(capture.Amount.Value)
	if err != nil {
		return nil, apperr.Validation("invalid_payload", "paypal capture amount: %v", err)
	}
	ev := &gateway.SettlementEvent{
		Provider:              Provider,
		EventID:               eventID,
		EventType:             eventType,
		ProviderTransactionID: orderID,
		ProviderReference:     capture.ID,
		Outcome:               outcome,
		Amount:                value,
		Currency:              money.Normalize(capture.Amount.CurrencyCode),
		Raw:                   raw,
	}
	if outcome == gateway.EventFailed {
		ev.FailureReason = capture.StatusDetails.Reason
		if ev.FailureReason == "" {
			ev.FailureReason = capture.Status
		}
	}
	return ev, nil
}
