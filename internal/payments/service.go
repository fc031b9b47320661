// Package payments dispatches payment intents to provider adapters and binds
// the resulting provider transaction to a pending payment row.
package payments

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"subscription-billing/internal/domain/apperr"
	"subscription-billing/internal/domain/billing"
	"subscription-billing/internal/domain/money"
	"subscription-billing/internal/gateway"
	"subscription-billing/internal/ledger"
	"subscription-billing/internal/logger"
)

type Service struct {
	ledger   *ledger.Ledger
	gateways *gateway.Registry
	log      *zap.Logger
}

func NewService(l *ledger.Ledger, gateways *gateway.Registry, log *zap.Logger) *Service {
	return &Service{ledger: l, gateways: gateways, log: logger.OrNop(log).Named("payments")}
}

type IntentInput struct {
	UserID  string
	OrderID string
	// Provider overrides the order's payment method when set.
	Provider  string
	ReturnURL string
	ClientIP  string
}

type IntentResult struct {
	Payment    *billing.Payment           `json:"payment"`
	Descriptor *gateway.PaymentDescriptor `json:"descriptor"`
}

// CreateIntent opens a provider-side payment for a payable order owned by
// the caller and records it as a pending payment.
func (s *Service) CreateIntent(ctx context.Context, in IntentInput) (*IntentResult, error) {
	order, err := s.ledger.GetOrderForUser(ctx, in.UserID, in.OrderID)
	if err != nil {
		return nil, err
	}
	if !order.IsPayable(s.ledger.Now()) {
		return nil, apperr.ErrOrderNotPayable.WithMessage("order %s is %s", order.ID, order.Status)
	}

	provider := in.Provider
	if provider == "" {
		provider = order.PaymentMethod
	}
	adapter, err := s.gateways.Get(provider)
	if err != nil {
		return nil, err
	}
	if !gateway.Supports(adapter, order.Currency) {
		return nil, apperr.Validation("invalid_currency", "%s does not accept %s", provider, order.Currency)
	}

	amount, err := money.Format(order.Amount, order.Currency)
	if err != nil {
		return nil, apperr.Validation("invalid_currency", "%v", err)
	}

	paymentID := uuid.NewString()
	desc, err := adapter.CreateIntent(ctx, gateway.IntentRequest{
		PaymentID:   paymentID,
		OrderID:     order.ID,
		UserID:      order.UserID,
		Amount:      order.Amount,
		Currency:    order.Currency,
		Description: "Subscription " + order.BillingPeriod + " " + amount + " " + order.Currency,
		ReturnURL:   in.ReturnURL,
		ClientIP:    in.ClientIP,
	})
	if err != nil {
		s.log.Warn("create intent failed",
			zap.String("order_id", order.ID),
			zap.String("provider", provider),
			zap.Error(err),
		)
		return nil, err
	}

	payment, err := s.ledger.RecordPaymentIntent(ctx, ledger.PaymentIntentRecord{
		PaymentID:             paymentID,
		OrderID:               order.ID,
		Provider:              provider,
		ProviderTransactionID: desc.ProviderTransactionID,
		Payload:               desc.Payload,
	})
	if err != nil {
		// The provider-side intent is left to expire on its own.
		return nil, err
	}
	return &IntentResult{Payment: payment, Descriptor: desc}, nil
}
