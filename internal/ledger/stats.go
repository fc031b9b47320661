package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"subscription-billing/internal/domain/billing"
)

type CurrencyStats struct {
	Currency      string          `json:"currency"`
	Completed     int64           `json:"completed"`
	GrossRevenue  decimal.Decimal `json:"gross_revenue"`
	RefundedTotal decimal.Decimal `json:"refunded_total"`
	NetRevenue    decimal.Decimal `json:"net_revenue"`
}

type PaymentStats struct {
	Since      time.Time                `json:"since"`
	Pending    int64                    `json:"pending"`
	Failed     int64                    `json:"failed"`
	ByCurrency map[string]CurrencyStats `json:"by_currency"`
}

// PaymentStats aggregates settled money per currency since the given time.
// Sums are done in decimal on the loaded rows so currencies never mix.
func (l *Ledger) PaymentStats(ctx context.Context, since time.Time) (*PaymentStats, error) {
	stats := &PaymentStats{Since: since, ByCurrency: map[string]CurrencyStats{}}
	db := l.db.WithContext(ctx)

	if err := db.Model(&billing.Payment{}).
		Where("status = ? AND created_at >= ?", billing.PaymentPending, since).
		Count(&stats.Pending).Error; err != nil {
		return nil, dbError(err)
	}
	if err := db.Model(&billing.Payment{}).
		Where("status = ? AND created_at >= ?", billing.PaymentFailed, since).
		Count(&stats.Failed).Error; err != nil {
		return nil, dbError(err)
	}

	var settled []billing.Payment
	if err := db.Select("currency", "amount", "refunded_amount").
		Where("status IN ? AND created_at >= ?", []billing.PaymentStatus{billing.PaymentCompleted, billing.PaymentRefunded}, since).
		Find(&settled).Error; err != nil {
		return nil, dbError(err)
	}

	for _, p := range settled {
		cs, ok := stats.ByCurrency[p.Currency]
		if !ok {
			cs = CurrencyStats{Currency: p.Currency, GrossRevenue: decimal.Zero, RefundedTotal: decimal.Zero}
		}
		cs.Completed++
		cs.GrossRevenue = cs.GrossRevenue.Add(p.Amount)
		cs.RefundedTotal = cs.RefundedTotal.Add(p.RefundedAmount)
		cs.NetRevenue = cs.GrossRevenue.Sub(cs.RefundedTotal)
		stats.ByCurrency[p.Currency] = cs
	}
	return stats, nil
}
