// Package gatewaytest provides an in-memory gateway.Adapter for service and
// handler tests.
package gatewaytest

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"subscription-billing/internal/domain/apperr"
	"subscription-billing/internal/gateway"
)

// Adapter records calls and replays scripted results. Callback bodies are
// JSON-encoded gateway.SettlementEvent values; the header "X-Fake-Signature"
// must equal "valid".
type Adapter struct {
	Name       string
	Currency   []string
	IntentErr  error
	RefundErr  error
	IgnoreType string

	mu      sync.Mutex
	Intents []gateway.IntentRequest
	Refunds []gateway.RefundRequest
}

func New(name string, currencies ...string) *Adapter {
	if len(currencies) == 0 {
		currencies = []string{"USD", "EUR", "CNY"}
	}
	return &Adapter{Name: name, Currency: currencies}
}

func (a *Adapter) Provider() string     { return a.Name }
func (a *Adapter) Currencies() []string { return a.Currency }

func (a *Adapter) CreateIntent(_ context.Context, req gateway.IntentRequest) (*gateway.PaymentDescriptor, error) {
	a.mu.Lock()
	a.Intents = append(a.Intents, req)
	a.mu.Unlock()
	if a.IntentErr != nil {
		return nil, a.IntentErr
	}
	return &gateway.PaymentDescriptor{
		Provider:              a.Name,
		ProviderTransactionID: "tx_" + req.PaymentID,
		RedirectURL:           "https://pay.test/" + req.PaymentID,
		Payload:               []byte(`{"fake":true}`),
	}, nil
}

func (a *Adapter) VerifyAndExtract(_ context.Context, body []byte, h http.Header) (*gateway.SettlementEvent, error) {
	if h.Get("X-Fake-Signature") != "valid" {
		return nil, apperr.Verification("fake: bad signature")
	}
	var ev gateway.SettlementEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, apperr.Validation("invalid_payload", "fake: %v", err)
	}
	ev.Provider = a.Name
	ev.Raw = body
	if a.IgnoreType != "" && ev.EventType == a.IgnoreType {
		return &ev, gateway.ErrEventIgnored
	}
	return &ev, nil
}

func (a *Adapter) Refund(_ context.Context, req gateway.RefundRequest) (*gateway.RefundReceipt, error) {
	a.mu.Lock()
	a.Refunds = append(a.Refunds, req)
	a.mu.Unlock()
	if a.RefundErr != nil {
		return nil, a.RefundErr
	}
	return &gateway.RefundReceipt{ProviderRefundID: "re_" + req.RefundID, Status: "succeeded"}, nil
}

func (a *Adapter) Acknowledge(outcome gateway.Outcome) gateway.Ack {
	switch outcome {
	case gateway.OutcomeRetry:
		return gateway.JSONAck(http.StatusServiceUnavailable, `{"ack":"retry"}`)
	case gateway.OutcomeRejected:
		return gateway.JSONAck(http.StatusBadRequest, `{"ack":"rejected"}`)
	default:
		return gateway.JSONAck(http.StatusOK, `{"ack":"`+string(outcome)+`"}`)
	}
}

func (a *Adapter) RefundCalls() []gateway.RefundRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]gateway.RefundRequest(nil), a.Refunds...)
}

func (a *Adapter) IntentCalls() []gateway.IntentRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]gateway.IntentRequest(nil), a.Intents...)
}
