// Package ledgertest wires a Ledger over sqlite and miniredis for tests of
// the packages built on top of it.
package ledgertest

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"subscription-billing/internal/clock"
	"subscription-billing/internal/domain/apperr"
	"subscription-billing/internal/domain/billing"
	"subscription-billing/internal/domain/orders"
	"subscription-billing/internal/domain/plans"
	"subscription-billing/internal/ledger"
	"subscription-billing/internal/testutil"
)

type Tiers map[uint]*plans.Tier

func (t Tiers) GetTier(_ context.Context, id uint) (*plans.Tier, error) {
	tier, ok := t[id]
	if !ok {
		return nil, apperr.Validation("invalid_tier", "tier %d not found", id)
	}
	return tier, nil
}

// DefaultTiers: 1 is 9.99 USD monthly, 2 is 20.00 EUR monthly, 3 is 68.00 CNY.
var DefaultTiers = Tiers{
	1: {ID: 1, Code: "basic", Name: "Basic", MonthlyPrice: decimal.RequireFromString("9.99"), YearlyPrice: decimal.RequireFromString("99.00"), Currency: "USD", IsActive: true},
	2: {ID: 2, Code: "premium", Name: "Premium", MonthlyPrice: decimal.RequireFromString("20.00"), YearlyPrice: decimal.RequireFromString("200.00"), Currency: "EUR", IsActive: true},
	3: {ID: 3, Code: "vip", Name: "VIP", MonthlyPrice: decimal.RequireFromString("68.00"), YearlyPrice: decimal.RequireFromString("680.00"), Currency: "CNY", IsActive: true},
}

type Providers []string

func (p Providers) Has(name string) bool {
	for _, n := range p {
		if n == name {
			return true
		}
	}
	return false
}

type Env struct {
	DB     *gorm.DB
	Redis  *redis.Client
	Clock  *clock.Manual
	Ledger *ledger.Ledger
}

func New(t *testing.T, locker ledger.Locker, providers ...string) *Env {
	t.Helper()
	db := testutil.NewTestDB(t)
	rdb, _ := testutil.NewTestRedis(t)
	clk := clock.NewManual(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	if locker == nil {
		locker = noLock{}
	}
	l := ledger.New(db, locker, DefaultTiers, Providers(providers), ledger.Options{Clock: clk})
	return &Env{DB: db, Redis: rdb, Clock: clk, Ledger: l}
}

// Order creates a monthly pending order for user on tier paid with method.
func (e *Env) Order(t *testing.T, user string, tier uint, method string) *orders.Order {
	t.Helper()
	o, err := e.Ledger.CreateOrder(context.Background(), ledger.CreateOrderInput{
		UserID:   user,
		TierID:   tier,
		Period:   orders.PeriodMonthly,
		Method:   method,
		Currency: DefaultTiers[tier].Currency,
	})
	require.NoError(t, err)
	return o
}

// Payment records a pending payment for o under provider/txID.
func (e *Env) Payment(t *testing.T, o *orders.Order, provider, txID string) *billing.Payment {
	t.Helper()
	p, err := e.Ledger.RecordPaymentIntent(context.Background(), ledger.PaymentIntentRecord{
		PaymentID:             "pay-" + txID,
		OrderID:               o.ID,
		Provider:              provider,
		ProviderTransactionID: txID,
	})
	require.NoError(t, err)
	return p
}

// Paid returns a completed payment and its paid order.
func (e *Env) Paid(t *testing.T, user string, tier uint, provider, txID string) (*billing.Payment, *orders.Order) {
	t.Helper()
	o := e.Order(t, user, tier, provider)
	p := e.Payment(t, o, provider, txID)
	p, o, err := e.Ledger.CompletePayment(context.Background(), p.ID, "ref-"+txID)
	require.NoError(t, err)
	return p, o
}

type noLock struct{}

func (noLock) Acquire(context.Context, string, time.Duration, time.Duration) (string, error) {
	return "t", nil
}
func (noLock) Release(context.Context, string, string) (bool, error) { return true, nil }
