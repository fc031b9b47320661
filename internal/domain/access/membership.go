package access

import (
	"sort"
	"time"

	"subscription-billing/internal/domain/orders"
)

// Membership is the access a user holds through paid orders.
type Membership struct {
	State         AccessState
	TierID        uint
	BillingPeriod string
	OrderID       string
	ActiveSince   *time.Time
	ActiveUntil   *time.Time
}

// PeriodEnd is when a period bought at start runs out.
func PeriodEnd(start time.Time, period string) time.Time {
	if period == orders.PeriodYearly {
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 1, 0)
}

// ComputeMembership folds a user's orders into one membership. Paid orders
// are applied in payment order and a purchase made while still covered
// starts when the current coverage ends. Refunded and unpaid orders grant
// nothing; a partial refund leaves the order paid and keeps its period.
func ComputeMembership(now time.Time, list []orders.Order) Membership {
	paid := make([]orders.Order, 0, len(list))
	for _, o := range list {
		if o.Status == orders.StatusPaid && o.PaidAt != nil {
			paid = append(paid, o)
		}
	}
	if len(paid) == 0 {
		return Membership{State: AccessNone}
	}
	sort.SliceStable(paid, func(i, j int) bool { return paid[i].PaidAt.Before(*paid[j].PaidAt) })

	var (
		m        Membership
		coverEnd time.Time
		since    time.Time
	)
	for _, o := range paid {
		start := *o.PaidAt
		if start.Before(coverEnd) {
			start = coverEnd
		} else {
			since = start
		}
		coverEnd = PeriodEnd(start, o.BillingPeriod)

		// the order covering now (or the last one) names the tier
		if !start.After(now) || m.OrderID == "" {
			m.TierID = o.TierID
			m.BillingPeriod = o.BillingPeriod
			m.OrderID = o.ID
		}
	}

	until := coverEnd
	s := since
	m.ActiveUntil = &until
	m.ActiveSince = &s
	if now.Before(coverEnd) {
		m.State = AccessActive
	} else {
		m.State = AccessLapsed
	}
	return m
}
