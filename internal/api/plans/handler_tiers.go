package plans

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"subscription-billing/internal/api/httpx"
	"subscription-billing/internal/catalog"
	"subscription-billing/internal/domain/plans"
)

type Handler struct {
	catalog *catalog.Catalog
	// prices is nil when Stripe is not configured.
	prices    catalog.PriceSource
	productID string
}

func NewHandler(c *catalog.Catalog, prices catalog.PriceSource, productID string) *Handler {
	return &Handler{catalog: c, prices: prices, productID: productID}
}

func (h *Handler) ListTiers(c *gin.Context) {
	list, err := h.catalog.ListActive(c.Request.Context())
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) SyncTiersFromStripe(c *gin.Context) {
	if h.prices == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Stripe not configured"})
		return
	}
	res, err := h.catalog.SyncFromStripe(c.Request.Context(), h.prices, h.productID)
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type saveTierRequest struct {
	Name         string          `json:"name" binding:"required"`
	MonthlyPrice decimal.Decimal `json:"monthly_price"`
	YearlyPrice  decimal.Decimal `json:"yearly_price"`
	Currency     string          `json:"currency" binding:"required"`
	Features     []string        `json:"features"`
	IsActive     *bool           `json:"is_active"`
	SortOrder    int             `json:"sort_order"`
}

func (h *Handler) SaveTier(c *gin.Context) {
	var req saveTierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.BadRequest(c, err)
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	tier, err := h.catalog.SaveTier(c.Request.Context(), plans.Tier{
		Code:         c.Param("code"),
		Name:         req.Name,
		MonthlyPrice: req.MonthlyPrice,
		YearlyPrice:  req.YearlyPrice,
		Currency:     req.Currency,
		Features:     req.Features,
		IsActive:     active,
		SortOrder:    req.SortOrder,
	})
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, tier)
}
