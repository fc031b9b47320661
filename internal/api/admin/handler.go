package admin

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"subscription-billing/internal/api/httpx"
	"subscription-billing/internal/domain/billing"
	"subscription-billing/internal/gateway"
	"subscription-billing/internal/ledger"
	"subscription-billing/internal/logger"
	"subscription-billing/internal/refunds"
	"subscription-billing/internal/settlement"
)

// maxStatsDays bounds ?days so the window never overflows a time.Duration.
const maxStatsDays = 3650

// Settler replays stored webhook events.
type Settler interface {
	Process(ctx context.Context, ev *gateway.SettlementEvent) (*settlement.Result, error)
}

type Handler struct {
	ledger  *ledger.Ledger
	refunds *refunds.Coordinator
	audit   *settlement.Audit
	settler Settler
	log     *zap.Logger
}

func NewHandler(l *ledger.Ledger, r *refunds.Coordinator, audit *settlement.Audit, settler Settler, log *zap.Logger) *Handler {
	return &Handler{ledger: l, refunds: r, audit: audit, settler: settler, log: logger.OrNop(log).Named("admin")}
}

type AdminPayment struct {
	ID                    string          `json:"id"`
	OrderID               string          `json:"order_id"`
	UserID                string          `json:"user_id"`
	Provider              string          `json:"provider"`
	ProviderTransactionID string          `json:"provider_transaction_id"`
	Amount                decimal.Decimal `json:"amount"`
	Currency              string          `json:"currency"`
	RefundedAmount        decimal.Decimal `json:"refunded_amount"`
	Status                string          `json:"status"`
	FailureReason         *string         `json:"failure_reason,omitempty"`
	CreatedAt             string          `json:"created_at"`
}

func (h *Handler) ListPayments(c *gin.Context) {
	list, err := h.ledger.ListPayments(c.Request.Context(), ledger.PaymentFilter{
		OrderID:  c.Query("order_id"),
		UserID:   c.Query("user_id"),
		Status:   billing.PaymentStatus(c.Query("status")),
		Provider: c.Query("provider"),
		Limit:    httpx.QueryInt(c, "limit", 50),
		Offset:   httpx.QueryInt(c, "offset", 0),
	})
	if err != nil {
		httpx.Error(c, err)
		return
	}

	result := make([]AdminPayment, 0, len(list))
	for _, p := range list {
		result = append(result, AdminPayment{
			ID:                    p.ID,
			OrderID:               p.OrderID,
			UserID:                p.UserID,
			Provider:              p.Provider,
			ProviderTransactionID: p.ProviderTransactionID,
			Amount:                p.Amount,
			Currency:              p.Currency,
			RefundedAmount:        p.RefundedAmount,
			Status:                string(p.Status),
			FailureReason:         p.FailureReason,
			CreatedAt:             p.CreatedAt.Format("2006-01-02 15:04"),
		})
	}
	c.JSON(http.StatusOK, result)
}

type refundRequest struct {
	Amount *decimal.Decimal `json:"amount"`
	Reason string           `json:"reason"`
}

func (h *Handler) RefundPayment(c *gin.Context) {
	var req refundRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			httpx.BadRequest(c, err)
			return
		}
	}

	res, err := h.refunds.Refund(c.Request.Context(), refunds.Input{
		PaymentID: c.Param("id"),
		Amount:    req.Amount,
		Reason:    req.Reason,
	})
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetAdminStats reports payment totals for the last ?days days (default 30).
func (h *Handler) GetAdminStats(c *gin.Context) {
	days := httpx.QueryInt(c, "days", 30)
	if days <= 0 {
		days = 30
	}
	if days > maxStatsDays {
		days = maxStatsDays
	}
	since := h.ledger.Now().Add(-time.Duration(days) * 24 * time.Hour)

	stats, err := h.ledger.PaymentStats(c.Request.Context(), since)
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) ExpireOrders(c *gin.Context) {
	n, err := h.ledger.ExpireOverdue(c.Request.Context())
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"expired": n})
}

func (h *Handler) ListWebhookEvents(c *gin.Context) {
	list, err := h.audit.List(c.Request.Context(), settlement.AuditFilter{
		Provider:      c.Query("provider"),
		Outcome:       c.Query("outcome"),
		TransactionID: c.Query("transaction_id"),
		PaymentID:     c.Query("payment_id"),
		Limit:         httpx.QueryInt(c, "limit", 50),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load webhook events"})
		return
	}
	c.JSON(http.StatusOK, list)
}

// ListPaymentWebhookEvents returns every delivery recorded for a payment,
// including the ones that arrived before the payment existed.
func (h *Handler) ListPaymentWebhookEvents(c *gin.Context) {
	ctx := c.Request.Context()
	p, err := h.ledger.GetPayment(ctx, c.Param("id"))
	if err != nil {
		httpx.Error(c, err)
		return
	}

	list, err := h.audit.List(ctx, settlement.AuditFilter{
		Provider:      p.Provider,
		PaymentID:     p.ID,
		TransactionID: p.ProviderTransactionID,
		Limit:         httpx.QueryInt(c, "limit", 50),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load webhook events"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": p, "events": list})
}

type ReplayResult struct {
	EventID   uint            `json:"event_id"`
	ReplayOf  uint            `json:"replay_of"`
	Outcome   string          `json:"outcome"`
	Ack       gateway.Outcome `json:"ack"`
	PaymentID string          `json:"payment_id,omitempty"`
	OrderID   string          `json:"order_id,omitempty"`
	Detail    string          `json:"detail,omitempty"`
}

// ReplayWebhookEvent runs a stored, verified delivery through settlement
// again, typically after an operator resolved why it went to review. The
// replay is audited as its own row pointing back at the original.
func (h *Handler) ReplayWebhookEvent(c *gin.Context) {
	ctx := c.Request.Context()
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook event id", "code": "invalid_id"})
		return
	}
	row, err := h.audit.Get(ctx, uint(id))
	if err != nil {
		httpx.Error(c, err)
		return
	}
	ev, err := settlement.ReplayEvent(row)
	if err != nil {
		httpx.Error(c, err)
		return
	}

	replay := &billing.WebhookEvent{
		Provider:              row.Provider,
		EventID:               row.EventID,
		ProviderTransactionID: row.ProviderTransactionID,
		ProviderReference:     row.ProviderReference,
		PaymentID:             row.PaymentID,
		EventType:             row.EventType,
		EventStatus:           row.EventStatus,
		Amount:                row.Amount,
		Currency:              row.Currency,
		FailureReason:         row.FailureReason,
		SignatureValid:        true,
		ReplayOf:              &row.ID,
		Payload:               row.Payload,
		ReceivedAt:            h.ledger.Now(),
	}

	res, err := h.settler.Process(ctx, ev)
	if err != nil {
		msg := err.Error()
		replay.Outcome = string(gateway.OutcomeRetry)
		replay.Error = &msg
		h.record(ctx, replay)
		httpx.Error(c, err)
		return
	}

	replay.Outcome = string(res.Outcome)
	if res.PaymentID != "" {
		replay.PaymentID = &res.PaymentID
	}
	if res.Detail != "" && res.Outcome.Ack() == gateway.OutcomeReview {
		replay.Error = &res.Detail
	}
	h.record(ctx, replay)

	h.log.Info("webhook event replayed",
		zap.Uint("replay_of", row.ID),
		zap.String("provider", row.Provider),
		zap.String("result", string(res.Outcome)),
	)
	c.JSON(http.StatusOK, ReplayResult{
		EventID:   replay.ID,
		ReplayOf:  row.ID,
		Outcome:   string(res.Outcome),
		Ack:       res.Outcome.Ack(),
		PaymentID: res.PaymentID,
		OrderID:   res.OrderID,
		Detail:    res.Detail,
	})
}

func (h *Handler) record(ctx context.Context, ev *billing.WebhookEvent) {
	if err := h.audit.Record(context.WithoutCancel(ctx), ev); err != nil {
		h.log.Error("replay audit write failed", zap.Uint("replay_of", *ev.ReplayOf), zap.Error(err))
	}
}
