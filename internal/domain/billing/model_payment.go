package billing

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// Payment is one provider-side attempt to settle an order.
type Payment struct {
	ID                    string          `gorm:"primaryKey;size:36" json:"id"`
	OrderID               string          `gorm:"size:36;not null;index" json:"order_id"`
	UserID                string          `gorm:"size:64;not null;index" json:"user_id"`
	Amount                decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	Currency              string          `gorm:"size:3;not null" json:"currency"`
	Provider              string          `gorm:"size:32;not null;uniqueIndex:idx_payments_provider_tx" json:"provider"`
	ProviderTransactionID string          `gorm:"size:128;not null;uniqueIndex:idx_payments_provider_tx" json:"provider_transaction_id"`
	ProviderReference     *string         `gorm:"size:128" json:"provider_reference,omitempty"`
	ProviderPayload       datatypes.JSON  `json:"-"`
	Status                PaymentStatus   `gorm:"size:16;not null;index" json:"status"`
	FailureReason         *string         `json:"failure_reason,omitempty"`
	RefundedAmount        decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"refunded_amount"`
	RefundReason          *string         `json:"refund_reason,omitempty"`
	CompletedAt           *time.Time      `json:"completed_at,omitempty"`
	RefundedAt            *time.Time      `json:"refunded_at,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// IsTerminal reports whether settlement may no longer touch the payment.
func (p *Payment) IsTerminal() bool {
	return p.Status != PaymentPending
}

// Refundable is the amount still available for refund.
func (p *Payment) Refundable() decimal.Decimal {
	return p.Amount.Sub(p.RefundedAmount)
}
