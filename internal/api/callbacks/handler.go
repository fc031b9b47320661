// Package callbacks receives provider payment notifications. Every delivery
// is verified by its adapter, settled, audited and answered with the exact
// acknowledgment its provider expects.
package callbacks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"subscription-billing/internal/clock"
	"subscription-billing/internal/domain/apperr"
	"subscription-billing/internal/domain/billing"
	"subscription-billing/internal/gateway"
	"subscription-billing/internal/logger"
	"subscription-billing/internal/settlement"
)

const maxBodyBytes = 64 << 10

type Settler interface {
	Process(ctx context.Context, ev *gateway.SettlementEvent) (*settlement.Result, error)
}

type Recorder interface {
	Record(ctx context.Context, ev *billing.WebhookEvent) error
}

type Handler struct {
	gateways *gateway.Registry
	settler  Settler
	audit    Recorder
	clock    clock.Clock
	log      *zap.Logger
}

func NewHandler(gateways *gateway.Registry, settler Settler, audit Recorder, clk clock.Clock, log *zap.Logger) *Handler {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Handler{
		gateways: gateways,
		settler:  settler,
		audit:    audit,
		clock:    clk,
		log:      logger.OrNop(log).Named("callbacks"),
	}
}

// Receive handles POST /callbacks/:provider.
func (h *Handler) Receive(c *gin.Context) {
	provider := c.Param("provider")
	adapter, err := h.gateways.Get(provider)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown provider"})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.log.Warn("callback body unreadable", zap.String("provider", provider), zap.Error(err))
		writeAck(c, adapter.Acknowledge(gateway.OutcomeRejected))
		return
	}

	ctx := c.Request.Context()
	rec := &billing.WebhookEvent{
		Provider:   provider,
		Payload:    string(body),
		ReceivedAt: h.clock.Now(),
	}
	outcome := h.ingest(ctx, adapter, body, c.Request.Header, rec)
	if rec.Outcome == "" {
		rec.Outcome = string(outcome)
	}

	if err := h.audit.Record(context.WithoutCancel(ctx), rec); err != nil {
		h.log.Error("callback audit write failed", zap.String("provider", provider), zap.Error(err))
	}
	writeAck(c, adapter.Acknowledge(outcome))
}

// ingest runs verification and settlement and returns the acknowledgment
// class. It fills rec as it learns more about the delivery; rec.Outcome is
// the settlement result when settlement ran.
func (h *Handler) ingest(ctx context.Context, adapter gateway.Adapter, body []byte, headers http.Header, rec *billing.WebhookEvent) gateway.Outcome {
	log := h.log.With(zap.String("provider", rec.Provider))

	ev, err := adapter.VerifyAndExtract(ctx, body, headers)
	if ev != nil {
		rec.EventType = ev.EventType
		rec.EventID = optional(ev.EventID)
		rec.ProviderTransactionID = optional(ev.ProviderTransactionID)
	}
	switch {
	case errors.Is(err, gateway.ErrEventIgnored):
		rec.SignatureValid = true
		return gateway.OutcomeIgnored
	case apperr.IsKind(err, apperr.KindVerification):
		log.Warn("callback signature rejected", zap.Error(err))
		rec.Error = optional(err.Error())
		return gateway.OutcomeRejected
	case err != nil:
		// Authentic but unusable payloads would fail the same way on
		// redelivery, so they are acknowledged and left for review.
		log.Error("callback payload rejected", zap.Error(err))
		rec.SignatureValid = true
		rec.Error = optional(err.Error())
		return gateway.OutcomeReview
	}
	rec.SignatureValid = true
	rec.ProviderReference = optional(ev.ProviderReference)
	rec.EventStatus = string(ev.Outcome)
	amount := ev.Amount
	rec.Amount = &amount
	rec.Currency = ev.Currency
	rec.FailureReason = optional(ev.FailureReason)

	res, err := h.settler.Process(ctx, ev)
	if err != nil {
		rec.Error = optional(err.Error())
		if apperr.IsKind(err, apperr.KindExternalService) {
			log.Warn("settlement deferred to provider retry", zap.Error(err))
			return gateway.OutcomeRetry
		}
		log.Error("settlement rejected event", zap.Error(err))
		return gateway.OutcomeReview
	}

	rec.Outcome = string(res.Outcome)
	rec.PaymentID = optional(res.PaymentID)
	switch res.Outcome {
	case settlement.AmountMismatch:
		rec.Error = optional(apperr.ErrAmountMismatch.WithMessage("%s", res.Detail).Error())
	case settlement.OrderNotPayable:
		rec.Error = optional(res.Detail)
	}
	log.Info("callback processed",
		zap.String("provider_tx", ev.ProviderTransactionID),
		zap.String("result", string(res.Outcome)),
	)
	return res.Outcome.Ack()
}

func writeAck(c *gin.Context, ack gateway.Ack) {
	c.Data(ack.Status, ack.ContentType, ack.Body)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
