package orders

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
	StatusRefunded  Status = "refunded"
)

const (
	PeriodMonthly = "monthly"
	PeriodYearly  = "yearly"
)

// DefaultTTL is how long a pending order stays payable.
const DefaultTTL = 24 * time.Hour

type Order struct {
	ID               string            `gorm:"primaryKey;size:36" json:"id"`
	UserID           string            `gorm:"size:64;not null;index;uniqueIndex:idx_orders_user_pending,where:status = 'pending'" json:"user_id"`
	TierID           uint              `gorm:"not null" json:"tier_id"`
	BillingPeriod    string            `gorm:"size:16;not null" json:"billing_period"`
	Amount           decimal.Decimal   `gorm:"type:numeric(12,2);not null" json:"amount"`
	Currency         string            `gorm:"size:3;not null" json:"currency"`
	Status           Status            `gorm:"size:16;not null;index" json:"status"`
	PaymentMethod    string            `gorm:"size:32;not null" json:"payment_method"`
	ExpiresAt        time.Time         `gorm:"not null;index" json:"expires_at"`
	Metadata         datatypes.JSONMap `json:"metadata,omitempty"`
	PaymentProvider  *string           `gorm:"size:32" json:"payment_provider,omitempty"`
	PaymentReference *string           `gorm:"size:128" json:"payment_reference,omitempty"`
	PaidAt           *time.Time        `json:"paid_at,omitempty"`
	CancelledAt      *time.Time        `json:"cancelled_at,omitempty"`
	RefundedAt       *time.Time        `json:"refunded_at,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// IsPayable reports whether a payment may still be attached to the order.
func (o *Order) IsPayable(now time.Time) bool {
	return o.Status == StatusPending && now.Before(o.ExpiresAt)
}

func ValidPeriod(p string) bool {
	return p == PeriodMonthly || p == PeriodYearly
}
