package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"subscription-billing/internal/domain/apperr"
	"subscription-billing/internal/domain/money"
	"subscription-billing/internal/domain/orders"
)

const (
	createLockTTL  = 10 * time.Second
	createLockWait = 2 * time.Second
	expireBatch    = 500
)

type CreateOrderInput struct {
	UserID   string
	TierID   uint
	Period   string
	Method   string
	Currency string
	// Amount is optional; when set it must equal the tier price.
	Amount   *decimal.Decimal
	Metadata map[string]any
}

// Evidence is what justified a transition. Fields that don't apply to the
// target status are ignored.
type Evidence struct {
	Provider  string
	Reference string
	Reason    string
}

func (l *Ledger) CreateOrder(ctx context.Context, in CreateOrderInput) (*orders.Order, error) {
	if in.UserID == "" {
		return nil, apperr.Validation("invalid_user", "user is required")
	}
	if !orders.ValidPeriod(in.Period) {
		return nil, apperr.Validation("invalid_period", "billing period must be monthly or yearly")
	}
	currency := money.Normalize(in.Currency)
	if !money.IsSupported(currency) {
		return nil, apperr.Validation("invalid_currency", "unsupported currency %q", in.Currency)
	}
	if l.providers != nil && !l.providers.Has(in.Method) {
		return nil, apperr.Validation("invalid_payment_method", "unsupported payment method %q", in.Method)
	}

	tier, err := l.tiers.GetTier(ctx, in.TierID)
	if err != nil {
		return nil, err
	}
	if !tier.IsActive {
		return nil, apperr.Validation("invalid_tier", "tier %d is not available", tier.ID)
	}
	if money.Normalize(tier.Currency) != currency {
		return nil, apperr.Validation("invalid_currency", "tier %s is priced in %s", tier.Code, tier.Currency)
	}
	price, ok := tier.PriceFor(in.Period)
	if !ok || !price.IsPositive() {
		return nil, apperr.Validation("invalid_tier", "tier %s has no %s price", tier.Code, in.Period)
	}
	if in.Amount != nil && !in.Amount.Equal(price) {
		return nil, apperr.Validation("amount_mismatch", "amount %s does not match tier price %s", in.Amount.String(), price.String())
	}

	unlock := l.lockUser(ctx, in.UserID)
	defer unlock()

	now := l.clock.Now()
	order := &orders.Order{
		ID:            uuid.NewString(),
		UserID:        in.UserID,
		TierID:        tier.ID,
		BillingPeriod: in.Period,
		Amount:        price,
		Currency:      currency,
		Status:        orders.StatusPending,
		PaymentMethod: in.Method,
		ExpiresAt:     now.Add(l.ttl),
		Metadata:      datatypes.JSONMap(in.Metadata),
	}

	err = l.tx(ctx, func(tx *gorm.DB) error {
		var existing orders.Order
		err := tx.Where("user_id = ? AND status = ?", in.UserID, orders.StatusPending).Take(&existing).Error
		switch {
		case err == nil:
			if now.Before(existing.ExpiresAt) {
				return apperr.ErrDuplicatePendingOrder.WithMessage("order %s is still pending", existing.ID)
			}
			if _, err := l.transitionTx(tx, &existing, orders.StatusExpired, Evidence{}, now); err != nil {
				return err
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		if err := tx.Create(order).Error; err != nil {
			if isUniqueViolation(err) {
				return apperr.ErrDuplicatePendingOrder
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, dbError(err)
	}

	l.log.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("user_id", order.UserID),
		zap.String("tier", tier.Code),
		zap.String("amount", order.Amount.String()),
		zap.String("currency", order.Currency),
	)
	return order, nil
}

// lockUser takes the per-user creation lock. The pending-order index is the
// real guard, so a lock store failure only costs contention and is logged.
func (l *Ledger) lockUser(ctx context.Context, userID string) func() {
	if l.locker == nil {
		return func() {}
	}
	key := "order:create:" + userID
	token, err := l.locker.Acquire(ctx, key, createLockTTL, createLockWait)
	if err != nil {
		l.log.Warn("order create lock unavailable", zap.String("user_id", userID), zap.Error(err))
		return func() {}
	}
	return func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if _, err := l.locker.Release(rctx, key, token); err != nil {
			l.log.Warn("order create lock release failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
}

// Transition moves an order to target. Disallowed transitions and lost races
// both return ErrInvalidStateTransition and change nothing.
func (l *Ledger) Transition(ctx context.Context, orderID string, target orders.Status, ev Evidence) (*orders.Order, error) {
	var out *orders.Order
	err := l.tx(ctx, func(tx *gorm.DB) error {
		order, err := loadOrder(tx, orderID)
		if err != nil {
			return err
		}
		out, err = l.transitionTx(tx, order, target, ev, l.clock.Now())
		return err
	})
	if err != nil {
		return nil, dbError(err)
	}

	l.log.Info("order transitioned",
		zap.String("order_id", out.ID),
		zap.String("status", string(out.Status)),
	)
	return out, nil
}

func (l *Ledger) transitionTx(tx *gorm.DB, order *orders.Order, target orders.Status, ev Evidence, now time.Time) (*orders.Order, error) {
	from := order.Status
	if err := orders.CheckTransition(from, target); err != nil {
		return nil, err
	}
	// An overdue order is dead even before the sweep has marked it.
	if target == orders.StatusPaid && !order.IsPayable(now) {
		return nil, apperr.ErrInvalidStateTransition.WithMessage("order %s expired at %s", order.ID, order.ExpiresAt.Format(time.RFC3339))
	}

	updates := map[string]any{"status": target}
	switch target {
	case orders.StatusPaid:
		updates["paid_at"] = now
		if ev.Provider != "" {
			updates["payment_provider"] = ev.Provider
		}
		if ev.Reference != "" {
			updates["payment_reference"] = ev.Reference
		}
	case orders.StatusCancelled:
		updates["cancelled_at"] = now
		if ev.Reason != "" {
			meta := datatypes.JSONMap{}
			for k, v := range order.Metadata {
				meta[k] = v
			}
			meta["cancel_reason"] = ev.Reason
			updates["metadata"] = meta
		}
	case orders.StatusRefunded:
		updates["refunded_at"] = now
	}

	res := tx.Model(&orders.Order{}).
		Where("id = ? AND status = ?", order.ID, from).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, apperr.ErrInvalidStateTransition.WithMessage("order %s is no longer %s", order.ID, from)
	}

	return loadOrder(tx, order.ID)
}

func (l *Ledger) CancelOrder(ctx context.Context, userID, orderID, reason string) (*orders.Order, error) {
	if _, err := l.GetOrderForUser(ctx, userID, orderID); err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "cancelled by user"
	}
	return l.Transition(ctx, orderID, orders.StatusCancelled, Evidence{Reason: reason})
}

// ExpireOverdue moves every pending order past its expiry to expired and
// returns how many it moved. Orders that changed concurrently are skipped.
func (l *Ledger) ExpireOverdue(ctx context.Context) (int, error) {
	now := l.clock.Now()
	expired := 0

	for {
		var ids []string
		err := l.db.WithContext(ctx).Model(&orders.Order{}).
			Where("status = ? AND expires_at <= ?", orders.StatusPending, now).
			Order("expires_at ASC").
			Limit(expireBatch).
			Pluck("id", &ids).Error
		if err != nil {
			return expired, dbError(err)
		}

		moved := 0
		for _, id := range ids {
			ok, err := l.expireOne(ctx, id, now)
			if err != nil {
				return expired, dbError(err)
			}
			if ok {
				moved++
			}
		}
		expired += moved

		if len(ids) < expireBatch || moved == 0 {
			break
		}
	}

	if expired > 0 {
		l.log.Info("expired overdue orders", zap.Int("count", expired))
	}
	return expired, nil
}

// expireOne moves a single overdue order to expired. It reports false when
// the order was settled or cancelled since it was selected.
func (l *Ledger) expireOne(ctx context.Context, orderID string, now time.Time) (bool, error) {
	err := l.tx(ctx, func(tx *gorm.DB) error {
		o, err := loadOrder(tx, orderID)
		if err != nil {
			return err
		}
		if o.Status != orders.StatusPending || now.Before(o.ExpiresAt) {
			return apperr.ErrInvalidStateTransition
		}
		_, err = l.transitionTx(tx, o, orders.StatusExpired, Evidence{}, now)
		return err
	})
	if errors.Is(err, apperr.ErrInvalidStateTransition) {
		return false, nil
	}
	return err == nil, err
}

func (l *Ledger) GetOrder(ctx context.Context, orderID string) (*orders.Order, error) {
	order, err := loadOrder(l.db.WithContext(ctx), orderID)
	if err != nil {
		return nil, dbError(err)
	}
	return order, nil
}

// GetOrderForUser hides orders owned by someone else behind not-found.
func (l *Ledger) GetOrderForUser(ctx context.Context, userID, orderID string) (*orders.Order, error) {
	order, err := l.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, apperr.ErrOrderNotFound
	}
	return order, nil
}

func (l *Ledger) ListOrders(ctx context.Context, userID string, limit int) ([]orders.Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var list []orders.Order
	err := l.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&list).Error
	if err != nil {
		return nil, dbError(err)
	}
	return list, nil
}

// PaidOrders returns every order of userID that is or was paid, oldest
// payment first. Refunded orders are included so callers see the history.
func (l *Ledger) PaidOrders(ctx context.Context, userID string) ([]orders.Order, error) {
	var list []orders.Order
	err := l.db.WithContext(ctx).
		Where("user_id = ? AND status IN ?", userID, []orders.Status{orders.StatusPaid, orders.StatusRefunded}).
		Order("paid_at ASC").
		Find(&list).Error
	if err != nil {
		return nil, dbError(err)
	}
	return list, nil
}

// PendingOrder returns the caller's open order, or nil when there is none.
func (l *Ledger) PendingOrder(ctx context.Context, userID string) (*orders.Order, error) {
	var list []orders.Order
	err := l.db.WithContext(ctx).
		Where("user_id = ? AND status = ? AND expires_at > ?", userID, orders.StatusPending, l.clock.Now()).
		Limit(1).
		Find(&list).Error
	if err != nil {
		return nil, dbError(err)
	}
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

func loadOrder(db *gorm.DB, id string) (*orders.Order, error) {
	var order orders.Order
	if err := db.Where("id = ?", id).Take(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}
