package plans

import (
	"strings"

	"github.com/shopspring/decimal"

	"subscription-billing/internal/domain/orders"
)

// Tier codes
const (
	TierBasic   = "basic"
	TierPremium = "premium"
	TierVIP     = "vip"
)

// PriceFor returns the tier price for a billing period.
func (t *Tier) PriceFor(period string) (decimal.Decimal, bool) {
	switch strings.ToLower(strings.TrimSpace(period)) {
	case orders.PeriodMonthly:
		return t.MonthlyPrice, true
	case orders.PeriodYearly:
		return t.YearlyPrice, true
	default:
		return decimal.Zero, false
	}
}

// PeriodForInterval maps a Stripe recurring interval to a billing period.
func PeriodForInterval(interval string) string {
	switch strings.ToLower(strings.TrimSpace(interval)) {
	case "month":
		return orders.PeriodMonthly
	case "year":
		return orders.PeriodYearly
	default:
		return ""
	}
}
