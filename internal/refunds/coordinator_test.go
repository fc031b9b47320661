package refunds

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"subscription-billing/internal/domain/apperr"
	"subscription-billing/internal/domain/billing"
	"subscription-billing/internal/domain/orders"
	"subscription-billing/internal/events"
	"subscription-billing/internal/gateway"
	"subscription-billing/internal/gateway/gatewaytest"
	"subscription-billing/internal/infra/redislock"
	"subscription-billing/internal/ledger/ledgertest"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.OrderEvent
}

func (r *recordingPublisher) Publish(_ context.Context, ev events.OrderEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

type fixture struct {
	env     *ledgertest.Env
	adapter *gatewaytest.Adapter
	pub     *recordingPublisher
	coord   *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	env := ledgertest.New(t, nil, "stripe")
	adapter := gatewaytest.New("stripe")
	pub := &recordingPublisher{}
	coord := NewCoordinator(env.Ledger, gateway.NewRegistry(adapter), redislock.NewLocker(env.Redis), pub, nil)
	return &fixture{env: env, adapter: adapter, pub: pub, coord: coord}
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestRefund_FullEUR(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p, o := f.env.Paid(t, "u1", 2, "stripe", "pi_1")

	res, err := f.coord.Refund(ctx, Input{PaymentID: p.ID, Amount: dec("20.00"), Reason: "requested_by_customer"})
	require.NoError(t, err)
	require.True(t, res.Full)
	require.Equal(t, billing.PaymentRefunded, res.Payment.Status)
	require.Equal(t, orders.StatusRefunded, res.Order.Status)
	require.Equal(t, o.ID, res.Order.ID)

	calls := f.adapter.RefundCalls()
	require.Len(t, calls, 1)
	require.True(t, calls[0].Amount.Equal(decimal.RequireFromString("20")))
	require.True(t, calls[0].TotalAmount.Equal(decimal.RequireFromString("20")))
	require.Equal(t, "EUR", calls[0].Currency)
	require.Equal(t, "ref-pi_1", calls[0].ProviderReference)

	require.Len(t, f.pub.events, 1)
	require.Equal(t, events.TypeOrderRefunded, f.pub.events[0].Type)
}

func TestRefund_DefaultsToRemaining(t *testing.T) {
	f := newFixture(t)
	p, _ := f.env.Paid(t, "u1", 2, "stripe", "pi_1")

	res, err := f.coord.Refund(context.Background(), Input{PaymentID: p.ID})
	require.NoError(t, err)
	require.True(t, res.Full)
	require.True(t, res.Amount.Equal(decimal.RequireFromString("20")))
}

func TestRefund_Partial(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p, _ := f.env.Paid(t, "u1", 2, "stripe", "pi_1")

	res, err := f.coord.Refund(ctx, Input{PaymentID: p.ID, Amount: dec("5.50")})
	require.NoError(t, err)
	require.False(t, res.Full)
	require.Equal(t, billing.PaymentCompleted, res.Payment.Status)
	require.True(t, res.Payment.RefundedAmount.Equal(decimal.RequireFromString("5.5")))
	require.Equal(t, orders.StatusPaid, res.Order.Status)

	res, err = f.coord.Refund(ctx, Input{PaymentID: p.ID})
	require.NoError(t, err)
	require.True(t, res.Full)
	require.True(t, res.Amount.Equal(decimal.RequireFromString("14.5")))
	require.Equal(t, orders.StatusRefunded, res.Order.Status)
}

func TestRefund_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("over the amount in any representation", func(t *testing.T) {
		f := newFixture(t)
		p, _ := f.env.Paid(t, "u1", 2, "stripe", "pi_1")

		for _, amount := range []string{"20.01", "2001", "20.0000001"} {
			_, err := f.coord.Refund(ctx, Input{PaymentID: p.ID, Amount: dec(amount)})
			require.True(t, apperr.IsKind(err, apperr.KindValidation), amount)
		}
		require.Empty(t, f.adapter.RefundCalls())
	})

	t.Run("finer than the currency allows", func(t *testing.T) {
		f := newFixture(t)
		p, _ := f.env.Paid(t, "u1", 1, "stripe", "pi_1")

		for _, amount := range []string{"0.005", "1.999"} {
			_, err := f.coord.Refund(ctx, Input{PaymentID: p.ID, Amount: dec(amount)})
			require.True(t, apperr.IsKind(err, apperr.KindValidation), amount)
		}
		require.Empty(t, f.adapter.RefundCalls())

		got, err := f.env.Ledger.GetPayment(ctx, p.ID)
		require.NoError(t, err)
		require.True(t, got.RefundedAmount.IsZero())
	})

	t.Run("non-positive amount", func(t *testing.T) {
		f := newFixture(t)
		p, _ := f.env.Paid(t, "u1", 2, "stripe", "pi_1")

		_, err := f.coord.Refund(ctx, Input{PaymentID: p.ID, Amount: dec("0")})
		require.True(t, apperr.IsKind(err, apperr.KindValidation))
	})

	t.Run("pending payment", func(t *testing.T) {
		f := newFixture(t)
		o := f.env.Order(t, "u1", 2, "stripe")
		p := f.env.Payment(t, o, "stripe", "pi_1")

		_, err := f.coord.Refund(ctx, Input{PaymentID: p.ID})
		require.True(t, errors.Is(err, apperr.ErrPaymentNotRefundable))
	})

	t.Run("already refunded", func(t *testing.T) {
		f := newFixture(t)
		p, _ := f.env.Paid(t, "u1", 2, "stripe", "pi_1")
		_, err := f.coord.Refund(ctx, Input{PaymentID: p.ID})
		require.NoError(t, err)

		_, err = f.coord.Refund(ctx, Input{PaymentID: p.ID})
		require.True(t, errors.Is(err, apperr.ErrPaymentNotRefundable))
		require.Len(t, f.adapter.RefundCalls(), 1)
	})

	t.Run("unknown payment", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.coord.Refund(ctx, Input{PaymentID: "nope"})
		require.True(t, errors.Is(err, apperr.ErrPaymentNotFound))
	})
}

func TestRefund_ProviderFailureBooksNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.adapter.RefundErr = gateway.ProviderError("stripe", errors.New("timeout"))
	p, _ := f.env.Paid(t, "u1", 2, "stripe", "pi_1")

	_, err := f.coord.Refund(ctx, Input{PaymentID: p.ID})
	require.True(t, apperr.IsKind(err, apperr.KindExternalService))

	got, err := f.env.Ledger.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, billing.PaymentCompleted, got.Status)
	require.True(t, got.RefundedAmount.IsZero())
	require.Empty(t, f.pub.events)
}

func TestRefund_ConcurrentRequestsNeverOverRefund(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p, _ := f.env.Paid(t, "u1", 2, "stripe", "pi_1")

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.coord.Refund(ctx, Input{PaymentID: p.ID, Amount: dec("15.00")})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
		}
	}
	require.Equal(t, 1, ok)
	require.Len(t, f.adapter.RefundCalls(), 1)

	got, err := f.env.Ledger.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, got.RefundedAmount.Equal(decimal.RequireFromString("15")))
}
