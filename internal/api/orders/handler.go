package orders

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"subscription-billing/internal/api/httpx"
	"subscription-billing/internal/ledger"
	"subscription-billing/internal/payments"
)

type Handler struct {
	ledger   *ledger.Ledger
	payments *payments.Service
}

func NewHandler(l *ledger.Ledger, p *payments.Service) *Handler {
	return &Handler{ledger: l, payments: p}
}

type createOrderRequest struct {
	TierID        uint             `json:"tier_id" binding:"required"`
	BillingPeriod string           `json:"billing_period" binding:"required"`
	PaymentMethod string           `json:"payment_method" binding:"required"`
	Currency      string           `json:"currency" binding:"required"`
	Amount        *decimal.Decimal `json:"amount"`
	Metadata      map[string]any   `json:"metadata"`
}

func (h *Handler) CreateOrder(c *gin.Context) {
	userID, ok := httpx.MustUserID(c)
	if !ok {
		return
	}
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.BadRequest(c, err)
		return
	}

	order, err := h.ledger.CreateOrder(c.Request.Context(), ledger.CreateOrderInput{
		UserID:   userID,
		TierID:   req.TierID,
		Period:   req.BillingPeriod,
		Method:   req.PaymentMethod,
		Currency: req.Currency,
		Amount:   req.Amount,
		Metadata: req.Metadata,
	})
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *Handler) ListOrders(c *gin.Context) {
	userID, ok := httpx.MustUserID(c)
	if !ok {
		return
	}
	list, err := h.ledger.ListOrders(c.Request.Context(), userID, httpx.QueryInt(c, "limit", 20))
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": list})
}

func (h *Handler) GetOrder(c *gin.Context) {
	userID, ok := httpx.MustUserID(c)
	if !ok {
		return
	}
	order, err := h.ledger.GetOrderForUser(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) CancelOrder(c *gin.Context) {
	userID, ok := httpx.MustUserID(c)
	if !ok {
		return
	}
	var req cancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			httpx.BadRequest(c, err)
			return
		}
	}

	order, err := h.ledger.CancelOrder(c.Request.Context(), userID, c.Param("id"), req.Reason)
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type intentRequest struct {
	Provider  string `json:"provider"`
	ReturnURL string `json:"return_url"`
}

func (h *Handler) CreatePaymentIntent(c *gin.Context) {
	userID, ok := httpx.MustUserID(c)
	if !ok {
		return
	}
	var req intentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			httpx.BadRequest(c, err)
			return
		}
	}

	res, err := h.payments.CreateIntent(c.Request.Context(), payments.IntentInput{
		UserID:    userID,
		OrderID:   c.Param("id"),
		Provider:  req.Provider,
		ReturnURL: req.ReturnURL,
		ClientIP:  c.ClientIP(),
	})
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}
