package payments

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"subscription-billing/internal/api/httpx"
	"subscription-billing/internal/ledger"
)

type Handler struct {
	ledger *ledger.Ledger
}

func NewHandler(l *ledger.Ledger) *Handler {
	return &Handler{ledger: l}
}

func (h *Handler) GetPayment(c *gin.Context) {
	userID, ok := httpx.MustUserID(c)
	if !ok {
		return
	}
	p, err := h.ledger.GetPaymentForUser(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// ListPayments returns the caller's payment history, newest first.
func (h *Handler) ListPayments(c *gin.Context) {
	userID, ok := httpx.MustUserID(c)
	if !ok {
		return
	}
	list, err := h.ledger.ListPayments(c.Request.Context(), ledger.PaymentFilter{
		UserID:  userID,
		OrderID: c.Query("order_id"),
		Limit:   httpx.QueryInt(c, "limit", 20),
		Offset:  httpx.QueryInt(c, "offset", 0),
	})
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": list})
}
