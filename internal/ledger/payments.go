package ledger

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"subscription-billing/internal/domain/apperr"
	"subscription-billing/internal/domain/billing"
	"subscription-billing/internal/domain/money"
	"subscription-billing/internal/domain/orders"
)

// ErrPaymentNotPending is returned when a settlement write finds the payment
// already out of pending. Settlement treats it as already processed.
var ErrPaymentNotPending = &apperr.Error{Kind: apperr.KindBusinessLogic, Code: "payment_not_pending", Message: "payment already left pending"}

type PaymentIntentRecord struct {
	PaymentID             string
	OrderID               string
	Provider              string
	ProviderTransactionID string
	Payload               []byte
}

// RecordPaymentIntent persists a pending payment for a payable order. Amount
// and currency always come from the order.
func (l *Ledger) RecordPaymentIntent(ctx context.Context, rec PaymentIntentRecord) (*billing.Payment, error) {
	if rec.ProviderTransactionID == "" {
		return nil, apperr.Validation("invalid_transaction_id", "provider transaction id is required")
	}

	var payment *billing.Payment
	err := l.tx(ctx, func(tx *gorm.DB) error {
		order, err := loadOrder(tx, rec.OrderID)
		if err != nil {
			return err
		}
		if !order.IsPayable(l.clock.Now()) {
			return apperr.ErrOrderNotPayable.WithMessage("order %s is %s", order.ID, order.Status)
		}

		payment = &billing.Payment{
			ID:                    rec.PaymentID,
			OrderID:               order.ID,
			UserID:                order.UserID,
			Amount:                order.Amount,
			Currency:              order.Currency,
			Provider:              rec.Provider,
			ProviderTransactionID: rec.ProviderTransactionID,
			Status:                billing.PaymentPending,
			RefundedAmount:        decimal.Zero,
		}
		if len(rec.Payload) > 0 {
			payment.ProviderPayload = datatypes.JSON(rec.Payload)
		}

		if err := tx.Create(payment).Error; err != nil {
			if isUniqueViolation(err) {
				return apperr.Business("duplicate_transaction", "transaction %s already recorded for %s", rec.ProviderTransactionID, rec.Provider)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, dbError(err)
	}

	l.log.Info("payment intent recorded",
		zap.String("payment_id", payment.ID),
		zap.String("order_id", payment.OrderID),
		zap.String("provider", payment.Provider),
		zap.String("provider_tx", payment.ProviderTransactionID),
	)
	return payment, nil
}

func (l *Ledger) GetPayment(ctx context.Context, paymentID string) (*billing.Payment, error) {
	p, err := loadPayment(l.db.WithContext(ctx), "id = ?", paymentID)
	if err != nil {
		return nil, dbError(err)
	}
	return p, nil
}

func (l *Ledger) GetPaymentForUser(ctx context.Context, userID, paymentID string) (*billing.Payment, error) {
	p, err := l.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, apperr.ErrPaymentNotFound
	}
	return p, nil
}

func (l *Ledger) FindPayment(ctx context.Context, provider, providerTxID string) (*billing.Payment, error) {
	p, err := loadPayment(l.db.WithContext(ctx), "provider = ? AND provider_transaction_id = ?", provider, providerTxID)
	if err != nil {
		return nil, dbError(err)
	}
	return p, nil
}

type PaymentFilter struct {
	OrderID  string
	UserID   string
	Status   billing.PaymentStatus
	Provider string
	Limit    int
	Offset   int
}

func (l *Ledger) ListPayments(ctx context.Context, f PaymentFilter) ([]billing.Payment, error) {
	q := l.db.WithContext(ctx).Model(&billing.Payment{})
	if f.OrderID != "" {
		q = q.Where("order_id = ?", f.OrderID)
	}
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Provider != "" {
		q = q.Where("provider = ?", f.Provider)
	}
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}

	var list []billing.Payment
	if err := q.Order("created_at DESC").Limit(f.Limit).Offset(f.Offset).Find(&list).Error; err != nil {
		return nil, dbError(err)
	}
	return list, nil
}

// CompletePayment marks the payment completed and the order paid in one
// transaction. If the order can no longer be paid nothing is written and
// ErrInvalidStateTransition is returned.
func (l *Ledger) CompletePayment(ctx context.Context, paymentID, reference string) (*billing.Payment, *orders.Order, error) {
	var (
		payment *billing.Payment
		order   *orders.Order
	)
	now := l.clock.Now()

	err := l.tx(ctx, func(tx *gorm.DB) error {
		p, err := loadPayment(tx, "id = ?", paymentID)
		if err != nil {
			return err
		}

		updates := map[string]any{
			"status":       billing.PaymentCompleted,
			"completed_at": now,
		}
		if reference != "" {
			updates["provider_reference"] = reference
		}
		res := tx.Model(&billing.Payment{}).
			Where("id = ? AND status = ?", p.ID, billing.PaymentPending).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrPaymentNotPending
		}

		o, err := loadOrder(tx, p.OrderID)
		if err != nil {
			return err
		}
		order, err = l.transitionTx(tx, o, orders.StatusPaid, Evidence{Provider: p.Provider, Reference: p.ProviderTransactionID}, now)
		if err != nil {
			return err
		}

		payment, err = loadPayment(tx, "id = ?", p.ID)
		return err
	})
	if err != nil {
		return nil, nil, dbError(err)
	}

	l.log.Info("payment completed",
		zap.String("payment_id", payment.ID),
		zap.String("order_id", order.ID),
	)
	return payment, order, nil
}

// FailPayment records a failed attempt. The order stays pending so the user
// can retry until it expires.
func (l *Ledger) FailPayment(ctx context.Context, paymentID, reason string) (*billing.Payment, error) {
	if reason == "" {
		reason = "declined by provider"
	}
	var payment *billing.Payment
	err := l.tx(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&billing.Payment{}).
			Where("id = ? AND status = ?", paymentID, billing.PaymentPending).
			Updates(map[string]any{
				"status":         billing.PaymentFailed,
				"failure_reason": reason,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			if _, err := loadPayment(tx, "id = ?", paymentID); err != nil {
				return err
			}
			return ErrPaymentNotPending
		}
		var err error
		payment, err = loadPayment(tx, "id = ?", paymentID)
		return err
	})
	if err != nil {
		return nil, dbError(err)
	}

	l.log.Info("payment failed",
		zap.String("payment_id", payment.ID),
		zap.String("reason", reason),
	)
	return payment, nil
}

type RefundRecord struct {
	PaymentID string
	Amount    decimal.Decimal
	Reason    string
}

// ApplyRefund books a provider refund against a completed payment. A refund
// that reaches the full amount moves the payment to refunded and the order
// to refunded; a partial one only accumulates refunded_amount.
func (l *Ledger) ApplyRefund(ctx context.Context, rec RefundRecord) (*billing.Payment, *orders.Order, error) {
	var (
		payment *billing.Payment
		order   *orders.Order
	)
	now := l.clock.Now()

	err := l.tx(ctx, func(tx *gorm.DB) error {
		p, err := loadPayment(tx, "id = ?", rec.PaymentID)
		if err != nil {
			return err
		}
		if err := CheckRefundable(p, rec.Amount); err != nil {
			return err
		}

		total := p.RefundedAmount.Add(rec.Amount)
		full := total.Equal(p.Amount)

		updates := map[string]any{"refunded_amount": total}
		if rec.Reason != "" {
			updates["refund_reason"] = rec.Reason
		}
		if full {
			updates["status"] = billing.PaymentRefunded
			updates["refunded_at"] = now
		}
		res := tx.Model(&billing.Payment{}).
			Where("id = ? AND status = ? AND refunded_amount = ?", p.ID, billing.PaymentCompleted, p.RefundedAmount).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.Business("concurrent_refund", "payment %s changed during refund", p.ID)
		}

		o, err := loadOrder(tx, p.OrderID)
		if err != nil {
			return err
		}
		if full {
			if o, err = l.transitionTx(tx, o, orders.StatusRefunded, Evidence{Reason: rec.Reason}, now); err != nil {
				return err
			}
		}
		order = o

		payment, err = loadPayment(tx, "id = ?", p.ID)
		return err
	})
	if err != nil {
		return nil, nil, dbError(err)
	}

	l.log.Info("refund applied",
		zap.String("payment_id", payment.ID),
		zap.String("amount", rec.Amount.String()),
		zap.String("payment_status", string(payment.Status)),
	)
	return payment, order, nil
}

// CheckRefundable validates a refund amount against what is left on p. The
// amount must also be expressible in the currency's minor units, since that
// is what the provider will actually move.
func CheckRefundable(p *billing.Payment, amount decimal.Decimal) error {
	if p.Status != billing.PaymentCompleted {
		return apperr.ErrPaymentNotRefundable.WithMessage("payment %s is %s", p.ID, p.Status)
	}
	if !amount.IsPositive() {
		return apperr.Validation("invalid_refund_amount", "refund amount must be positive")
	}
	if _, err := money.ToMinor(amount, p.Currency); err != nil {
		return apperr.Validation("invalid_refund_amount", "refund amount %s is not valid for %s", amount.String(), p.Currency)
	}
	if amount.GreaterThan(p.Refundable()) {
		return apperr.Validation("invalid_refund_amount", "refund amount %s exceeds refundable %s", amount.String(), p.Refundable().String())
	}
	return nil
}

func loadPayment(db *gorm.DB, query string, args ...any) (*billing.Payment, error) {
	var p billing.Payment
	if err := db.Where(query, args...).Take(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}
