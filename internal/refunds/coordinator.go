// Package refunds drives provider-side refunds and books them in the ledger.
package refunds

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"subscription-billing/internal/domain/billing"
	"subscription-billing/internal/domain/orders"
	"subscription-billing/internal/events"
	"subscription-billing/internal/gateway"
	"subscription-billing/internal/ledger"
	"subscription-billing/internal/logger"
)

const (
	lockTTL        = 60 * time.Second
	lockWait       = 5 * time.Second
	publishTimeout = 5 * time.Second
)

type Locker interface {
	Acquire(ctx context.Context, key string, ttl, wait time.Duration) (string, error)
	Release(ctx context.Context, key, token string) (bool, error)
}

type Input struct {
	PaymentID string
	// Amount defaults to everything still refundable.
	Amount *decimal.Decimal
	Reason string
}

type Result struct {
	Payment          *billing.Payment `json:"payment"`
	Order            *orders.Order    `json:"order"`
	Amount           decimal.Decimal  `json:"amount"`
	Full             bool             `json:"full"`
	ProviderRefundID string           `json:"provider_refund_id"`
}

type Coordinator struct {
	ledger    *ledger.Ledger
	gateways  *gateway.Registry
	locker    Locker
	publisher events.Publisher
	log       *zap.Logger
}

func NewCoordinator(l *ledger.Ledger, gateways *gateway.Registry, locker Locker, publisher events.Publisher, log *zap.Logger) *Coordinator {
	return &Coordinator{
		ledger:    l,
		gateways:  gateways,
		locker:    locker,
		publisher: events.OrNop(publisher),
		log:       logger.OrNop(log).Named("refunds"),
	}
}

// Refund validates the request against the current payment, asks the
// provider to refund and then books the result. The per-payment lock keeps
// two refunds from both passing validation against the same balance.
func (c *Coordinator) Refund(ctx context.Context, in Input) (*Result, error) {
	key := "refund:" + in.PaymentID
	token, err := c.locker.Acquire(ctx, key, lockTTL, lockWait)
	if err != nil {
		return nil, err
	}
	defer func() {
		if _, err := c.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			c.log.Warn("refund lock release failed", zap.String("payment_id", in.PaymentID), zap.Error(err))
		}
	}()

	payment, err := c.ledger.GetPayment(ctx, in.PaymentID)
	if err != nil {
		return nil, err
	}
	amount := payment.Refundable()
	if in.Amount != nil {
		amount = *in.Amount
	}
	if err := ledger.CheckRefundable(payment, amount); err != nil {
		return nil, err
	}

	adapter, err := c.gateways.Get(payment.Provider)
	if err != nil {
		return nil, err
	}
	reference := ""
	if payment.ProviderReference != nil {
		reference = *payment.ProviderReference
	}
	receipt, err := adapter.Refund(ctx, gateway.RefundRequest{
		RefundID:              uuid.NewString(),
		PaymentID:             payment.ID,
		ProviderTransactionID: payment.ProviderTransactionID,
		ProviderReference:     reference,
		Amount:                amount,
		TotalAmount:           payment.Amount,
		Currency:              payment.Currency,
		Reason:                in.Reason,
	})
	if err != nil {
		c.log.Warn("provider refund failed",
			zap.String("payment_id", payment.ID),
			zap.String("provider", payment.Provider),
			zap.Error(err),
		)
		return nil, err
	}

	updated, order, err := c.ledger.ApplyRefund(ctx, ledger.RefundRecord{
		PaymentID: payment.ID,
		Amount:    amount,
		Reason:    in.Reason,
	})
	if err != nil {
		// The provider already moved the money; this needs an operator.
		c.log.Error("refund issued but not booked",
			zap.String("payment_id", payment.ID),
			zap.String("provider_refund_id", receipt.ProviderRefundID),
			zap.String("amount", amount.String()),
			zap.Error(err),
		)
		return nil, err
	}

	res := &Result{
		Payment:          updated,
		Order:            order,
		Amount:           amount,
		Full:             updated.Status == billing.PaymentRefunded,
		ProviderRefundID: receipt.ProviderRefundID,
	}
	c.publish(ctx, res)
	return res, nil
}

func (c *Coordinator) publish(ctx context.Context, res *Result) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	err := c.publisher.Publish(ctx, events.OrderEvent{
		Type:           events.TypeOrderRefunded,
		OrderID:        res.Order.ID,
		UserID:         res.Order.UserID,
		TierID:         res.Order.TierID,
		BillingPeriod:  res.Order.BillingPeriod,
		PaymentID:      res.Payment.ID,
		Provider:       res.Payment.Provider,
		Amount:         res.Amount,
		Currency:       res.Payment.Currency,
		RefundedAmount: res.Payment.RefundedAmount,
		OccurredAt:     c.ledger.Now(),
	})
	if err != nil {
		c.log.Error("order.refunded publish failed", zap.String("order_id", res.Order.ID), zap.Error(err))
	}
}
