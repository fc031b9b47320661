package catalog

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"subscription-billing/internal/domain/apperr"
	"subscription-billing/internal/domain/orders"
	"subscription-billing/internal/domain/plans"
	"subscription-billing/internal/infra/stripe"
)

// PriceSource lists the recurring prices tiers are synced from.
type PriceSource interface {
	ListRecurringPrices(ctx context.Context, productID string) ([]stripe.RecurringPrice, int, error)
}

type SyncResult struct {
	Synced  int `json:"synced"`
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

// SyncFromStripe upserts tier prices from Stripe, matching prices to tiers by
// their "tier" metadata. A new tier code creates an inactive tier so it
// never goes on sale before both prices exist.
func (c *Catalog) SyncFromStripe(ctx context.Context, src PriceSource, productID string) (*SyncResult, error) {
	prices, skipped, err := src.ListRecurringPrices(ctx, productID)
	if err != nil {
		return nil, apperr.External("stripe", err)
	}

	res := &SyncResult{Skipped: skipped}
	var touched []uint

	for _, p := range prices {
		var tier plans.Tier
		err := c.db.WithContext(ctx).Where("code = ?", p.TierCode).Take(&tier).Error
		created := false
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			tier = plans.Tier{Code: p.TierCode, Name: p.Name, Currency: p.Currency, IsActive: false}
			created = true
		case err != nil:
			return nil, apperr.External("database", err)
		}

		if !created && tier.Currency != p.Currency {
			c.log.Warn("stripe price currency differs from tier",
				zap.String("tier", tier.Code),
				zap.String("price_id", p.PriceID),
				zap.String("price_currency", p.Currency),
			)
			res.Skipped++
			continue
		}

		priceID := p.PriceID
		switch p.Period {
		case orders.PeriodMonthly:
			tier.MonthlyPrice = p.Amount
			tier.StripeMonthlyPriceID = &priceID
		case orders.PeriodYearly:
			tier.YearlyPrice = p.Amount
			tier.StripeYearlyPriceID = &priceID
		default:
			res.Skipped++
			continue
		}

		if created {
			err = createTier(c.db.WithContext(ctx), &tier)
		} else {
			err = c.db.WithContext(ctx).Save(&tier).Error
		}
		if err != nil {
			return nil, apperr.External("database", err)
		}
		if created {
			res.Created++
		} else {
			res.Updated++
		}
		res.Synced++
		touched = append(touched, tier.ID)
	}

	c.Invalidate(ctx, touched...)
	c.log.Info("tiers synced from stripe",
		zap.Int("synced", res.Synced),
		zap.Int("created", res.Created),
		zap.Int("updated", res.Updated),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}
