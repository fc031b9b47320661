// Package events describes the order lifecycle notifications published after
// a settlement or refund commits. Downstream consumers (membership
// activation, mail) subscribe to them; the billing core never waits on them.
package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

const (
	TypeOrderPaid     = "order.paid"
	TypeOrderRefunded = "order.refunded"
)

type OrderEvent struct {
	Type           string          `json:"type"`
	OrderID        string          `json:"order_id"`
	UserID         string          `json:"user_id"`
	TierID         uint            `json:"tier_id"`
	BillingPeriod  string          `json:"billing_period"`
	PaymentID      string          `json:"payment_id"`
	Provider       string          `json:"provider"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	RefundedAmount decimal.Decimal `json:"refunded_amount,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev OrderEvent) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, OrderEvent) error { return nil }

// Nop discards events. Used when no broker is configured.
func Nop() Publisher { return nopPublisher{} }

// OrNop returns p, or Nop when p is nil.
func OrNop(p Publisher) Publisher {
	if p == nil {
		return Nop()
	}
	return p
}
