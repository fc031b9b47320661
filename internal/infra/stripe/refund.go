package stripe

import (
	"context"
	"strings"

	"github.com/stripe/stripe-go/v75"

	"subscription-billing/internal/domain/money"
	"subscription-billing/internal/gateway"
)

func (a *Adapter) Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.RefundReceipt, error) {
	minor, err := money.ToMinor(req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.ProviderTransactionID),
		Amount:        stripe.Int64(minor),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.Context = ctx
	params.SetIdempotencyKey("refund-" + req.RefundID)
	params.AddMetadata("payment_id", req.PaymentID)
	if req.Reason != "" {
		params.AddMetadata("reason", req.Reason)
	}

	r, err := a.refunds.New(params)
	if err != nil {
		return nil, gateway.ProviderError(Provider, err)
	}
	return &gateway.RefundReceipt{ProviderRefundID: r.ID, Status: string(r.Status)}, nil
}

func toStripeCurrency(c string) string {
	return strings.ToLower(money.Normalize(c))
}
