package users

import (
	"time"

	"subscription-billing/internal/domain/access"
	"subscription-billing/internal/domain/orders"
)

func BuildMembershipDTO(now time.Time, m access.Membership, tier *TierDTO) MembershipDTO {
	dto := MembershipDTO{
		State:       string(m.State),
		Tier:        tier,
		ActiveSince: m.ActiveSince,
		ActiveUntil: m.ActiveUntil,
	}
	if m.State == access.AccessNone {
		return dto
	}
	dto.BillingPeriod = m.BillingPeriod
	if m.State == access.AccessActive && m.ActiveUntil != nil {
		dto.DaysLeft = daysLeft(now, *m.ActiveUntil)
	}
	return dto
}

func daysLeft(now, end time.Time) *int {
	d := int(end.Sub(now).Hours() / 24)
	if d < 0 {
		d = 0
	}
	return &d
}

func BuildPendingOrderDTO(o *orders.Order) *PendingOrderDTO {
	if o == nil {
		return nil
	}
	return &PendingOrderDTO{
		ID:            o.ID,
		TierID:        o.TierID,
		BillingPeriod: o.BillingPeriod,
		Amount:        o.Amount,
		Currency:      o.Currency,
		PaymentMethod: o.PaymentMethod,
		ExpiresAt:     o.ExpiresAt,
	}
}
