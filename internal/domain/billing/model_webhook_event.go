package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// WebhookEvent is the audit row written for every inbound provider callback,
// including the ones rejected before any state changed. Verified deliveries
// also keep the normalized settlement fields so an operator can replay them.
type WebhookEvent struct {
	ID                    uint             `gorm:"primaryKey" json:"id"`
	Provider              string           `gorm:"size:32;not null;index" json:"provider"`
	EventID               *string          `gorm:"size:128;index" json:"event_id,omitempty"`
	ProviderTransactionID *string          `gorm:"size:128;index" json:"provider_transaction_id,omitempty"`
	ProviderReference     *string          `gorm:"size:128" json:"provider_reference,omitempty"`
	PaymentID             *string          `gorm:"size:36;index" json:"payment_id,omitempty"`
	EventType             string           `gorm:"size:64" json:"event_type"`
	EventStatus           string           `gorm:"size:16" json:"event_status,omitempty"`
	Amount                *decimal.Decimal `gorm:"type:numeric(20,8)" json:"amount,omitempty"`
	Currency              string           `gorm:"size:3" json:"currency,omitempty"`
	FailureReason         *string          `json:"failure_reason,omitempty"`
	SignatureValid        bool             `gorm:"not null" json:"signature_valid"`
	Outcome               string           `gorm:"size:32;not null;index" json:"outcome"`
	Error                 *string          `json:"error,omitempty"`
	ReplayOf              *uint            `gorm:"index" json:"replay_of,omitempty"`
	Payload               string           `gorm:"type:text" json:"-"`
	ReceivedAt            time.Time        `gorm:"not null;index" json:"received_at"`
}
