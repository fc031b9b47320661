package stripe

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v75"

	"subscription-billing/internal/domain/money"
	"subscription-billing/internal/domain/plans"
)

// RecurringPrice is an active recurring Stripe price tagged with a tier.
type RecurringPrice struct {
	PriceID  string
	TierCode string
	Name     string
	Period   string
	Amount   decimal.Decimal
	Currency string
}

// ListRecurringPrices returns the active recurring prices of productID (all
// products when empty) that carry a "tier" metadata key. Prices hidden with
// metadata visible=false are skipped.
func (a *Adapter) ListRecurringPrices(ctx context.Context, productID string) ([]RecurringPrice, int, error) {
	params := &stripe.PriceListParams{}
	params.Context = ctx
	params.Active = stripe.Bool(true)
	params.Type = stripe.String("recurring")
	if productID != "" {
		params.Product = stripe.String(productID)
	}
	params.AddExpand("data.product")

	var out []RecurringPrice
	skipped := 0

	it := a.prices.List(params)
	for it.Next() {
		p := it.Price()

		if !p.Active || p.Recurring == nil {
			skipped++
			continue
		}
		if p.Metadata["visible"] == "false" {
			skipped++
			continue
		}
		tier := p.Metadata["tier"]
		period := plans.PeriodForInterval(string(p.Recurring.Interval))
		if tier == "" || period == "" {
			skipped++
			continue
		}

		currency := money.Normalize(string(p.Currency))
		amount, err := money.FromMinor(p.UnitAmount, currency)
		if err != nil {
			skipped++
			continue
		}

		name := tier
		if p.Product != nil && p.Product.Name != "" {
			name = p.Product.Name
		}
		out = append(out, RecurringPrice{
			PriceID:  p.ID,
			TierCode: tier,
			Name:     name,
			Period:   period,
			Amount:   amount,
			Currency: currency,
		})
	}
	if err := it.Err(); err != nil {
		return nil, skipped, err
	}
	return out, skipped, nil
}
