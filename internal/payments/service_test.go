package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"subscription-billing/internal/domain/apperr"
	"subscription-billing/internal/domain/billing"
	"subscription-billing/internal/domain/orders"
	"subscription-billing/internal/gateway"
	"subscription-billing/internal/gateway/gatewaytest"
	"subscription-billing/internal/ledger/ledgertest"
)

func setup(t *testing.T) (*ledgertest.Env, *gatewaytest.Adapter, *gatewaytest.Adapter, *Service) {
	t.Helper()
	env := ledgertest.New(t, nil, "stripe", "alipay")
	card := gatewaytest.New("stripe", "USD", "EUR")
	wallet := gatewaytest.New("alipay", "CNY")
	svc := NewService(env.Ledger, gateway.NewRegistry(card, wallet), nil)
	return env, card, wallet, svc
}

func TestCreateIntent(t *testing.T) {
	ctx := context.Background()

	t.Run("records pending payment bound to provider tx", func(t *testing.T) {
		env, card, _, svc := setup(t)
		o := env.Order(t, "u1", 1, "stripe")

		res, err := svc.CreateIntent(ctx, IntentInput{UserID: "u1", OrderID: o.ID})
		require.NoError(t, err)
		require.Equal(t, "tx_"+res.Payment.ID, res.Descriptor.ProviderTransactionID)
		require.Equal(t, billing.PaymentPending, res.Payment.Status)
		require.True(t, res.Payment.Amount.Equal(o.Amount))
		require.Equal(t, "USD", res.Payment.Currency)

		calls := card.IntentCalls()
		require.Len(t, calls, 1)
		require.Equal(t, res.Payment.ID, calls[0].PaymentID)
		require.Equal(t, "Subscription monthly 9.99 USD", calls[0].Description)

		stored, err := env.Ledger.FindPayment(ctx, "stripe", res.Descriptor.ProviderTransactionID)
		require.NoError(t, err)
		require.Equal(t, res.Payment.ID, stored.ID)
	})

	t.Run("order of another user is not found", func(t *testing.T) {
		env, _, _, svc := setup(t)
		o := env.Order(t, "u1", 1, "stripe")

		_, err := svc.CreateIntent(ctx, IntentInput{UserID: "u2", OrderID: o.ID})
		require.True(t, errors.Is(err, apperr.ErrOrderNotFound))
	})

	t.Run("expired order is not payable", func(t *testing.T) {
		env, card, _, svc := setup(t)
		o := env.Order(t, "u1", 1, "stripe")
		env.Clock.Advance(25 * time.Hour)

		_, err := svc.CreateIntent(ctx, IntentInput{UserID: "u1", OrderID: o.ID})
		require.True(t, errors.Is(err, apperr.ErrOrderNotPayable))
		require.Empty(t, card.IntentCalls())
	})

	t.Run("cancelled order is not payable", func(t *testing.T) {
		env, _, _, svc := setup(t)
		o := env.Order(t, "u1", 1, "stripe")
		_, err := env.Ledger.CancelOrder(ctx, "u1", o.ID, "changed mind")
		require.NoError(t, err)

		_, err = svc.CreateIntent(ctx, IntentInput{UserID: "u1", OrderID: o.ID})
		require.True(t, errors.Is(err, apperr.ErrOrderNotPayable))
	})

	t.Run("provider must accept the currency", func(t *testing.T) {
		env, _, wallet, svc := setup(t)
		o := env.Order(t, "u1", 1, "stripe")

		_, err := svc.CreateIntent(ctx, IntentInput{UserID: "u1", OrderID: o.ID, Provider: "alipay"})
		require.True(t, apperr.IsKind(err, apperr.KindValidation))
		require.Empty(t, wallet.IntentCalls())
	})

	t.Run("unknown provider", func(t *testing.T) {
		env, _, _, svc := setup(t)
		o := env.Order(t, "u1", 1, "stripe")

		_, err := svc.CreateIntent(ctx, IntentInput{UserID: "u1", OrderID: o.ID, Provider: "cash"})
		require.True(t, apperr.IsKind(err, apperr.KindValidation))
	})

	t.Run("provider failure writes nothing", func(t *testing.T) {
		env, card, _, svc := setup(t)
		card.IntentErr = gateway.ProviderError("stripe", errors.New("boom"))
		o := env.Order(t, "u1", 1, "stripe")

		_, err := svc.CreateIntent(ctx, IntentInput{UserID: "u1", OrderID: o.ID})
		require.True(t, apperr.IsKind(err, apperr.KindExternalService))

		var count int64
		require.NoError(t, env.DB.Model(&billing.Payment{}).Count(&count).Error)
		require.Zero(t, count)

		got, err := env.Ledger.GetOrder(ctx, o.ID)
		require.NoError(t, err)
		require.Equal(t, orders.StatusPending, got.Status)
	})
}
