package users

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"subscription-billing/internal/api/httpx"
	"subscription-billing/internal/domain/access"
	"subscription-billing/internal/ledger"
)

type Handler struct {
	ledger *ledger.Ledger
	tiers  ledger.TierSource
}

func NewHandler(l *ledger.Ledger, tiers ledger.TierSource) *Handler {
	return &Handler{ledger: l, tiers: tiers}
}

// GetCurrentUser returns the caller's identity, membership and open order.
func (h *Handler) GetCurrentUser(c *gin.Context) {
	userID, ok := httpx.MustUserID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	paid, err := h.ledger.PaidOrders(ctx, userID)
	if err != nil {
		httpx.Error(c, err)
		return
	}
	pending, err := h.ledger.PendingOrder(ctx, userID)
	if err != nil {
		httpx.Error(c, err)
		return
	}

	now := h.ledger.Now()
	m := access.ComputeMembership(now, paid)
	resp := MeResponse{
		User: UserDTO{
			ID:   userID,
			Role: c.GetString("role"),
		},
		Membership: BuildMembershipDTO(now, m, h.tierFor(c, m)),
		Pending:    BuildPendingOrderDTO(pending),
	}
	c.JSON(http.StatusOK, resp)
}

// tierFor resolves the membership's tier. A tier removed from the catalog
// only drops the name and features from the response.
func (h *Handler) tierFor(c *gin.Context, m access.Membership) *TierDTO {
	if m.State == access.AccessNone {
		return nil
	}
	tier, err := h.tiers.GetTier(c.Request.Context(), m.TierID)
	if err != nil {
		_ = c.Error(err)
		return &TierDTO{ID: m.TierID, Features: []string{}}
	}
	return &TierDTO{
		ID:       tier.ID,
		Code:     tier.Code,
		Name:     tier.Name,
		Features: access.CapabilitiesFor(m.State, tier),
	}
}
