package settlement

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"subscription-billing/internal/domain/apperr"
	"subscription-billing/internal/domain/billing"
	"subscription-billing/internal/gateway"
)

// Audit stores one webhook_events row per inbound callback.
type Audit struct {
	db *gorm.DB
}

func NewAudit(db *gorm.DB) *Audit {
	return &Audit{db: db}
}

func (a *Audit) Record(ctx context.Context, ev *billing.WebhookEvent) error {
	return a.db.WithContext(ctx).Create(ev).Error
}

func (a *Audit) Get(ctx context.Context, id uint) (*billing.WebhookEvent, error) {
	var ev billing.WebhookEvent
	if err := a.db.WithContext(ctx).Take(&ev, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("webhook_event_not_found", "webhook event %d not found", id)
		}
		return nil, apperr.External("database", err)
	}
	return &ev, nil
}

type AuditFilter struct {
	Provider      string
	Outcome       string
	TransactionID string
	PaymentID     string
	Limit         int
}

// List returns the newest rows first. A PaymentID filter also matches rows
// for the same transaction id that arrived before the payment was known.
func (a *Audit) List(ctx context.Context, f AuditFilter) ([]billing.WebhookEvent, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	q := a.db.WithContext(ctx).Model(&billing.WebhookEvent{})
	if f.Provider != "" {
		q = q.Where("provider = ?", f.Provider)
	}
	if f.Outcome != "" {
		q = q.Where("outcome = ?", f.Outcome)
	}
	switch {
	case f.PaymentID != "" && f.TransactionID != "":
		q = q.Where("(payment_id = ? OR provider_transaction_id = ?)", f.PaymentID, f.TransactionID)
	case f.PaymentID != "":
		q = q.Where("payment_id = ?", f.PaymentID)
	case f.TransactionID != "":
		q = q.Where("provider_transaction_id = ?", f.TransactionID)
	}
	var list []billing.WebhookEvent
	err := q.Order("received_at DESC").Order("id DESC").Limit(f.Limit).Find(&list).Error
	return list, err
}

// ReplayEvent rebuilds the settlement event a verified delivery carried.
// Rows that failed verification or never reached settlement cannot be
// replayed, since nothing trustworthy was extracted from them.
func ReplayEvent(row *billing.WebhookEvent) (*gateway.SettlementEvent, error) {
	if !row.SignatureValid || row.EventStatus == "" || row.ProviderTransactionID == nil || row.Amount == nil {
		return nil, apperr.Business("not_replayable", "webhook event %d carries no verified settlement data", row.ID)
	}
	ev := &gateway.SettlementEvent{
		Provider:              row.Provider,
		EventType:             row.EventType,
		ProviderTransactionID: *row.ProviderTransactionID,
		Outcome:               gateway.EventOutcome(row.EventStatus),
		Amount:                *row.Amount,
		Currency:              row.Currency,
		Raw:                   []byte(row.Payload),
	}
	if row.EventID != nil {
		ev.EventID = *row.EventID
	}
	if row.ProviderReference != nil {
		ev.ProviderReference = *row.ProviderReference
	}
	if row.FailureReason != nil {
		ev.FailureReason = *row.FailureReason
	}
	return ev, nil
}
