// Package gateway defines the provider-neutral shapes every payment
// provider adapter produces and consumes. Settlement and the ledger depend
// only on these types.
package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"

	"subscription-billing/internal/domain/apperr"
)

type EventOutcome string

const (
	EventSucceeded EventOutcome = "succeeded"
	EventFailed    EventOutcome = "failed"
)

// ErrEventIgnored is returned by VerifyAndExtract for authentic events that
// carry nothing to settle.
var ErrEventIgnored = errors.New("event type ignored")

// IntentRequest carries what an adapter needs to open a provider-side
// payment. PaymentID is generated before the call and doubles as the
// idempotency key / merchant order number.
type IntentRequest struct {
	PaymentID   string
	OrderID     string
	UserID      string
	Amount      decimal.Decimal
	Currency    string
	Description string
	ReturnURL   string
	ClientIP    string
}

// PaymentDescriptor is what the caller needs to send the user to the
// provider. Exactly one of RedirectURL, ClientSecret or QRCode is set.
type PaymentDescriptor struct {
	Provider              string `json:"provider"`
	ProviderTransactionID string `json:"provider_transaction_id"`
	RedirectURL           string `json:"redirect_url,omitempty"`
	ClientSecret          string `json:"client_secret,omitempty"`
	QRCode                string `json:"qr_code,omitempty"`
	// Payload is the raw provider response kept on the payment row.
	Payload []byte `json:"-"`
}

// SettlementEvent is a verified, normalized provider notification.
type SettlementEvent struct {
	Provider              string
	EventID               string
	EventType             string
	ProviderTransactionID string
	// ProviderReference is the provider's id for the captured money
	// (charge, capture, trade number) when it differs from the transaction id.
	ProviderReference string
	Outcome           EventOutcome
	Amount            decimal.Decimal
	Currency          string
	FailureReason     string
	Raw               []byte
}

type RefundRequest struct {
	RefundID              string
	PaymentID             string
	ProviderTransactionID string
	ProviderReference     string
	Amount                decimal.Decimal
	TotalAmount           decimal.Decimal
	Currency              string
	Reason                string
}

type RefundReceipt struct {
	ProviderRefundID string
	Status           string
}

// Outcome is the ingestion result an adapter turns into its provider's
// acknowledgment.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "already_processed"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeRejected  Outcome = "rejected"
	OutcomeReview    Outcome = "review"
	OutcomeRetry     Outcome = "retry"
)

// Ack is the exact HTTP response a provider expects.
type Ack struct {
	Status      int
	ContentType string
	Body        []byte
}

type Adapter interface {
	Provider() string
	Currencies() []string
	CreateIntent(ctx context.Context, req IntentRequest) (*PaymentDescriptor, error)
	VerifyAndExtract(ctx context.Context, body []byte, headers http.Header) (*SettlementEvent, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundReceipt, error)
	Acknowledge(outcome Outcome) Ack
}

// ProviderError wraps a failed provider call as an external service error.
func ProviderError(provider string, err error) error {
	return apperr.External(provider, err)
}

// JSONAck is the acknowledgment shape shared by providers that accept any 2xx.
func JSONAck(status int, body string) Ack {
	return Ack{Status: status, ContentType: "application/json", Body: []byte(body)}
}
