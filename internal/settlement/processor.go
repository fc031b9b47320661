// Package settlement applies verified provider notifications to payments and
// orders exactly once per (provider, transaction id).
package settlement

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"subscription-billing/internal/domain/apperr"
	"subscription-billing/internal/domain/billing"
	"subscription-billing/internal/domain/money"
	"subscription-billing/internal/domain/orders"
	"subscription-billing/internal/events"
	"subscription-billing/internal/gateway"
	"subscription-billing/internal/ledger"
	"subscription-billing/internal/logger"
)

const (
	lockTTL        = 30 * time.Second
	lockWait       = 5 * time.Second
	publishTimeout = 5 * time.Second
)

type Outcome string

const (
	Settled          Outcome = "settled"
	Failed           Outcome = "failed"
	AlreadyProcessed Outcome = "already_processed"
	PaymentNotFound  Outcome = "payment_not_found"
	AmountMismatch   Outcome = "amount_mismatch"
	OrderNotPayable  Outcome = "order_not_payable"
)

// Ack maps a settlement outcome to the acknowledgment class providers see.
// Every typed outcome means the delivery was received and must not be
// redelivered; only errors returned by Process ask for a retry.
func (o Outcome) Ack() gateway.Outcome {
	switch o {
	case Settled, Failed:
		return gateway.OutcomeProcessed
	case AlreadyProcessed:
		return gateway.OutcomeDuplicate
	default:
		return gateway.OutcomeReview
	}
}

type Result struct {
	Outcome   Outcome
	PaymentID string
	OrderID   string
	Detail    string
}

type Locker interface {
	Acquire(ctx context.Context, key string, ttl, wait time.Duration) (string, error)
	Release(ctx context.Context, key, token string) (bool, error)
}

type Processor struct {
	ledger    *ledger.Ledger
	locker    Locker
	publisher events.Publisher
	log       *zap.Logger
}

func NewProcessor(l *ledger.Ledger, locker Locker, publisher events.Publisher, log *zap.Logger) *Processor {
	return &Processor{
		ledger:    l,
		locker:    locker,
		publisher: events.OrNop(publisher),
		log:       logger.OrNop(log).Named("settlement"),
	}
}

func lockKey(provider, txID string) string {
	return "settle:" + provider + ":" + txID
}

// Process settles ev. A returned error is always an external failure (lock
// or database) and the provider should redeliver; business outcomes are
// reported through Result.
func (p *Processor) Process(ctx context.Context, ev *gateway.SettlementEvent) (*Result, error) {
	if ev.ProviderTransactionID == "" {
		return nil, apperr.Validation("invalid_event", "settlement event without transaction id")
	}
	log := p.log.With(
		zap.String("provider", ev.Provider),
		zap.String("provider_tx", ev.ProviderTransactionID),
		zap.String("event_id", ev.EventID),
	)

	key := lockKey(ev.Provider, ev.ProviderTransactionID)
	token, err := p.locker.Acquire(ctx, key, lockTTL, lockWait)
	if err != nil {
		log.Warn("settlement lock unavailable", zap.Error(err))
		if apperr.IsKind(err, apperr.KindExternalService) {
			return nil, err
		}
		return nil, apperr.External("lock store", err)
	}
	defer func() {
		if _, err := p.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			log.Warn("settlement lock release failed", zap.Error(err))
		}
	}()

	res, paid, err := p.settle(ctx, ev, log)
	if err != nil {
		return nil, err
	}
	if paid != nil {
		p.publish(ctx, paid, log)
	}
	return res, nil
}

type paidOrder struct {
	payment *billing.Payment
	order   *orders.Order
}

func (p *Processor) settle(ctx context.Context, ev *gateway.SettlementEvent, log *zap.Logger) (*Result, *paidOrder, error) {
	payment, err := p.ledger.FindPayment(ctx, ev.Provider, ev.ProviderTransactionID)
	if errors.Is(err, apperr.ErrPaymentNotFound) {
		log.Warn("settlement for unknown payment")
		return &Result{Outcome: PaymentNotFound}, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	res := &Result{PaymentID: payment.ID, OrderID: payment.OrderID}
	if payment.IsTerminal() {
		res.Outcome = AlreadyProcessed
		res.Detail = string(payment.Status)
		return res, nil, nil
	}

	if !ev.Amount.Equal(payment.Amount) || money.Normalize(ev.Currency) != payment.Currency {
		res.Outcome = AmountMismatch
		res.Detail = "expected " + payment.Amount.String() + " " + payment.Currency + ", got " + ev.Amount.String() + " " + ev.Currency
		log.Error("settlement amount mismatch, manual review required",
			zap.String("payment_id", payment.ID),
			zap.String("expected", payment.Amount.String()+" "+payment.Currency),
			zap.String("received", ev.Amount.String()+" "+ev.Currency),
		)
		return res, nil, nil
	}

	switch ev.Outcome {
	case gateway.EventSucceeded:
		completed, order, err := p.ledger.CompletePayment(ctx, payment.ID, ev.ProviderReference)
		switch {
		case errors.Is(err, ledger.ErrPaymentNotPending):
			res.Outcome = AlreadyProcessed
			return res, nil, nil
		case errors.Is(err, apperr.ErrInvalidStateTransition):
			// Money was captured for an order that can no longer be paid.
			// The payment stays pending for manual reconciliation.
			res.Outcome = OrderNotPayable
			res.Detail = err.Error()
			log.Error("captured payment for unpayable order, manual reconciliation required",
				zap.String("payment_id", payment.ID),
				zap.String("order_id", payment.OrderID),
			)
			return res, nil, nil
		case err != nil:
			return nil, nil, err
		}
		res.Outcome = Settled
		log.Info("payment settled", zap.String("payment_id", completed.ID), zap.String("order_id", order.ID))
		return res, &paidOrder{payment: completed, order: order}, nil

	case gateway.EventFailed:
		_, err := p.ledger.FailPayment(ctx, payment.ID, ev.FailureReason)
		switch {
		case errors.Is(err, ledger.ErrPaymentNotPending):
			res.Outcome = AlreadyProcessed
			return res, nil, nil
		case err != nil:
			return nil, nil, err
		}
		res.Outcome = Failed
		res.Detail = ev.FailureReason
		return res, nil, nil

	default:
		return nil, nil, apperr.Validation("invalid_event", "unknown settlement outcome %q", ev.Outcome)
	}
}

// publish runs after commit. A lost event is logged and never undoes the
// settlement.
func (p *Processor) publish(ctx context.Context, paid *paidOrder, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	err := p.publisher.Publish(ctx, events.OrderEvent{
		Type:          events.TypeOrderPaid,
		OrderID:       paid.order.ID,
		UserID:        paid.order.UserID,
		TierID:        paid.order.TierID,
		BillingPeriod: paid.order.BillingPeriod,
		PaymentID:     paid.payment.ID,
		Provider:      paid.payment.Provider,
		Amount:        paid.payment.Amount,
		Currency:      paid.payment.Currency,
		OccurredAt:    p.ledger.Now(),
	})
	if err != nil {
		log.Error("order.paid publish failed", zap.String("order_id", paid.order.ID), zap.Error(err))
	}
}
