package plans

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"subscription-billing/internal/catalog"
	"subscription-billing/internal/testutil"
)

func setup(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rdb, _ := testutil.NewTestRedis(t)
	h := NewHandler(catalog.New(testutil.NewTestDB(t), rdb, 0, nil), nil, "")

	r := gin.New()
	r.GET("/tiers", h.ListTiers)
	r.PUT("/admin/tiers/:code", h.SaveTier)
	r.POST("/admin/sync-tiers", h.SyncTiersFromStripe)
	return r
}

func TestSaveAndListTiers(t *testing.T) {
	r := setup(t)

	body, _ := json.Marshal(map[string]any{
		"name":          "Premium",
		"monthly_price": "20.00",
		"yearly_price":  "200.00",
		"currency":      "EUR",
		"features":      []string{"unlimited"},
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/admin/tiers/premium", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tiers", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var tiers []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tiers))
	require.Len(t, tiers, 1)
	require.Equal(t, "premium", tiers[0]["code"])
	require.Equal(t, "20", tiers[0]["monthly_price"])
	require.Equal(t, []any{"unlimited"}, tiers[0]["features"])
}

func TestSaveTierRejectsBadCurrency(t *testing.T) {
	r := setup(t)
	body, _ := json.Marshal(map[string]any{"name": "X", "currency": "ZZZ"})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/admin/tiers/x", bytes.NewReader(body)))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSyncWithoutStripe(t *testing.T) {
	r := setup(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/sync-tiers", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}
