package stripe

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v75"
	"github.com/stripe/stripe-go/v75/paymentintent"
	"github.com/stripe/stripe-go/v75/price"
	"github.com/stripe/stripe-go/v75/refund"
	"go.uber.org/zap"

	"subscription-billing/internal/domain/money"
	"subscription-billing/internal/gateway"
	"subscription-billing/internal/logger"
)

const Provider = "stripe"

type Config struct {
	SecretKey     string
	WebhookSecret string
	// APIURL overrides the Stripe API base, used against stripe-mock or tests.
	APIURL  string
	Timeout time.Duration
}

// Adapter is the card-processor variant. It talks to Stripe through
// explicit clients instead of the package-level stripe.Key so several
// configurations can coexist in one process.
type Adapter struct {
	cfg     Config
	intents paymentintent.Client
	refunds refund.Client
	prices  price.Client
	log     *zap.Logger
}

func New(cfg Config, log *zap.Logger) *Adapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	log = logger.OrNop(log).Named("stripe")

	bc := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		LeveledLogger:     log.Sugar(),
		MaxNetworkRetries: stripe.Int64(0),
	}
	if cfg.APIURL != "" {
		bc.URL = stripe.String(cfg.APIURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, bc)

	return &Adapter{
		cfg:     cfg,
		intents: paymentintent.Client{B: backend, Key: cfg.SecretKey},
		refunds: refund.Client{B: backend, Key: cfg.SecretKey},
		prices:  price.Client{B: backend, Key: cfg.SecretKey},
		log:     log,
	}
}

func (a *Adapter) Provider() string { return Provider }

func (a *Adapter) Currencies() []string {
	return []string{"USD", "EUR", "GBP", "AUD", "CAD", "CHF", "SGD", "HKD", "JPY", "KRW"}
}

// CreateIntent opens a PaymentIntent and hands back its client secret for
// the front end to confirm the card.
func (a *Adapter) CreateIntent(ctx context.Context, req gateway.IntentRequest) (*gateway.PaymentDescriptor, error) {
	minor, err := money.ToMinor(req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}

	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(minor),
		Currency:    stripe.String(toStripeCurrency(req.Currency)),
		Description: stripe.String(req.Description),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey("intent-" + req.PaymentID)
	params.AddMetadata("order_id", req.OrderID)
	params.AddMetadata("payment_id", req.PaymentID)
	params.AddMetadata("user_id", req.UserID)

	pi, err := a.intents.New(params)
	if err != nil {
		return nil, gateway.ProviderError(Provider, err)
	}

	payload, _ := json.Marshal(map[string]any{
		"id":       pi.ID,
		"status":   pi.Status,
		"amount":   pi.Amount,
		"currency": pi.Currency,
	})
	return &gateway.PaymentDescriptor{
		Provider:              Provider,
		ProviderTransactionID: pi.ID,
		ClientSecret:          pi.ClientSecret,
		Payload:               payload,
	}, nil
}

func (a *Adapter) Acknowledge(outcome gateway.Outcome) gateway.Ack {
	if outcome == gateway.OutcomeRetry {
		return gateway.JSONAck(http.StatusInternalServerError, `{"status":"retry"}`)
	}
	if outcome == gateway.OutcomeProcessed {
		return gateway.JSONAck(http.StatusOK, `{"status":"received"}`)
	}
	return gateway.JSONAck(http.StatusOK, `{"status":"`+string(outcome)+`"}`)
}
