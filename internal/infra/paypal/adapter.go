package paypal

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"subscription-billing/internal/domain/apperr"
	"subscription-billing/internal/domain/money"
	"subscription-billing/internal/gateway"
	"subscription-billing/internal/logger"
)

const Provider = "paypal"

type Config struct {
	ClientID     string
	ClientSecret string
	WebhookID    string
	APIURL       string
	ReturnURL    string
	CancelURL    string
	Timeout      time.Duration
}

// Adapter is the first wallet variant: PayPal Orders v2. Approved orders are
// captured when their approval webhook arrives, and every webhook is verified
// through PayPal's verification endpoint.
type Adapter struct {
	cfg  Config
	http *http.Client
	log  *zap.Logger
}

func New(cfg Config, log *zap.Logger) *Adapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Adapter{cfg: cfg, http: newHTTPClient(cfg), log: logger.OrNop(log).Named("paypal")}
}

func (a *Adapter) Provider() string { return Provider }

func (a *Adapter) Currencies() []string {
	return []string{"USD", "EUR", "GBP", "AUD", "CAD", "CHF", "SGD", "HKD", "JPY"}
}

type amount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type link struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type createOrderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Links  []link `json:"links"`
}

func (a *Adapter) CreateIntent(ctx context.Context, req gateway.IntentRequest) (*gateway.PaymentDescriptor, error) {
	value, err := money.Format(req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}
	returnURL := a.cfg.ReturnURL
	if req.ReturnURL != "" {
		returnURL = req.ReturnURL
	}

	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"reference_id": req.PaymentID,
			"custom_id":    req.OrderID,
			"invoice_id":   req.PaymentID,
			"description":  req.Description,
			"amount":       amount{CurrencyCode: money.Normalize(req.Currency), Value: value},
		}},
		"application_context": map[string]string{
			"return_url":  returnURL,
			"cancel_url":  a.cfg.CancelURL,
			"user_action": "PAY_NOW",
		},
	}

	var out createOrderResponse
	if err := a.do(ctx, http.MethodPost, "/v2/checkout/orders", req.PaymentID, body, &out); err != nil {
		return nil, gateway.ProviderError(Provider, err)
	}

	var approve string
	for _, l := range out.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			approve = l.Href
			break
		}
	}
	if out.ID == "" || approve == "" {
		return nil, gateway.ProviderError(Provider, &apiError{Status: http.StatusOK, Body: "order response without id or approve link"})
	}

	payload, _ := json.Marshal(map[string]string{"id": out.ID, "status": out.Status})
	return &gateway.PaymentDescriptor{
		Provider:              Provider,
		ProviderTransactionID: out.ID,
		RedirectURL:           approve,
		Payload:               payload,
	}, nil
}

type refundResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Refund refunds against the capture recorded at settlement time.
func (a *Adapter) Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.RefundReceipt, error) {
	if req.ProviderReference == "" {
		return nil, apperr.Business("missing_capture", "payment %s has no paypal capture id", req.PaymentID)
	}
	value, err := money.Format(req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"amount":        amount{CurrencyCode: money.Normalize(req.Currency), Value: value},
		"invoice_id":    req.RefundID,
		"note_to_payer": req.Reason,
	}
	var out refundResponse
	if err := a.do(ctx, http.MethodPost, "/v2/payments/captures/"+req.ProviderReference+"/refund", req.RefundID, body, &out); err != nil {
		return nil, gateway.ProviderError(Provider, err)
	}
	return &gateway.RefundReceipt{ProviderRefundID: out.ID, Status: out.Status}, nil
}

func (a *Adapter) Acknowledge(outcome gateway.Outcome) gateway.Ack {
	if outcome == gateway.OutcomeRetry {
		return gateway.JSONAck(http.StatusInternalServerError, `{"status":"retry"}`)
	}
	return gateway.JSONAck(http.StatusOK, `{"status":"`+string(outcome)+`"}`)
}
