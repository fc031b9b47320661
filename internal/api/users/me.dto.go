package users

import (
	"time"

	"github.com/shopspring/decimal"
)

type MeResponse struct {
	User       UserDTO          `json:"user"`
	Membership MembershipDTO    `json:"membership"`
	Pending    *PendingOrderDTO `json:"pending_order"`
}

/* ---------- USER ---------- */

type UserDTO struct {
	ID   string `json:"id"`
	Role string `json:"role,omitempty"`
}

/* ---------- MEMBERSHIP ---------- */

type MembershipDTO struct {
	State         string     `json:"state"` // active|lapsed|none
	Tier          *TierDTO   `json:"tier"`
	BillingPeriod string     `json:"billing_period,omitempty"`
	ActiveSince   *time.Time `json:"active_since"`
	ActiveUntil   *time.Time `json:"active_until"`
	DaysLeft      *int       `json:"days_left"`
}

type TierDTO struct {
	ID       uint     `json:"id"`
	Code     string   `json:"code"`
	Name     string   `json:"name"`
	Features []string `json:"features"`
}

/* ---------- ORDER ---------- */

type PendingOrderDTO struct {
	ID            string          `json:"id"`
	TierID        uint            `json:"tier_id"`
	BillingPeriod string          `json:"billing_period"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	PaymentMethod string          `json:"payment_method"`
	ExpiresAt     time.Time       `json:"expires_at"`
}
