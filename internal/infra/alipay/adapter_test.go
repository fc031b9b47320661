package alipay

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subscription-billing/internal/domain/apperr"
	"subscription-billing/internal/gateway"
	"subscription-billing/internal/infra/rsakeys"
)

type keys struct {
	merchant *rsa.PrivateKey
	alipay   *rsa.PrivateKey
}

func newKeys(t *testing.T) keys {
	t.Helper()
	m, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	a, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return keys{merchant: m, alipay: a}
}

func newAdapter(t *testing.T, k keys, gatewayURL string) *Adapter {
	t.Helper()
	pub, err := x509.MarshalPKIXPublicKey(&k.alipay.PublicKey)
	require.NoError(t, err)
	a, err := New(Config{
		AppID:      "2021000000000001",
		PrivateKey: base64.StdEncoding.EncodeToString(x509.MarshalPKCS1PrivateKey(k.merchant)),
		PublicKey:  base64.StdEncoding.EncodeToString(pub),
		GatewayURL: gatewayURL,
		NotifyURL:  "https://api.test/callbacks/alipay",
	}, nil)
	require.NoError(t, err)
	return a
}

// notification signs params the way Alipay does.
func notification(t *testing.T, k keys, params url.Values) []byte {
	t.Helper()
	sig, err := rsakeys.Sign(k.alipay, []byte(signContent(params, "sign", "sign_type")))
	require.NoError(t, err)
	params.Set("sign", sig)
	params.Set("sign_type", "RSA2")
	return []byte(params.Encode())
}

func tradeParams(status string) url.Values {
	return url.Values{
		"app_id":       {"2021000000000001"},
		"notify_id":    {"n-1"},
		"notify_type":  {"trade_status_sync"},
		"out_trade_no": {"pay-1"},
		"trade_no":     {"2025030122001"},
		"trade_status": {status},
		"total_amount": {"68.00"},
	}
}

func TestCreateIntentSignsRedirect(t *testing.T) {
	k := newKeys(t)
	a := newAdapter(t, k, "https://openapi.alipay.test/gateway.do")

	d, err := a.CreateIntent(context.Background(), gateway.IntentRequest{
		PaymentID: "pay-1",
		OrderID:   "ord-1",
		Amount:    decimal.RequireFromString("68"),
		Currency:  "CNY",
	})
	require.NoError(t, err)
	require.Equal(t, "pay-1", d.ProviderTransactionID)

	u, err := url.Parse(d.RedirectURL)
	require.NoError(t, err)
	q := u.Query()
	require.Equal(t, "alipay.trade.page.pay", q.Get("method"))
	require.Contains(t, q.Get("biz_content"), `"total_amount":"68.00"`)
	require.NoError(t, rsakeys.Verify(&k.merchant.PublicKey, []byte(signContent(q, "sign")), q.Get("sign")))
}

func TestVerifyAndExtract(t *testing.T) {
	k := newKeys(t)
	a := newAdapter(t, k, "")
	ctx := context.Background()

	t.Run("trade success", func(t *testing.T) {
		ev, err := a.VerifyAndExtract(ctx, notification(t, k, tradeParams("TRADE_SUCCESS")), nil)
		require.NoError(t, err)
		require.Equal(t, gateway.EventSucceeded, ev.Outcome)
		require.Equal(t, "pay-1", ev.ProviderTransactionID)
		require.Equal(t, "2025030122001", ev.ProviderReference)
		require.Equal(t, "CNY", ev.Currency)
		require.True(t, ev.Amount.Equal(decimal.NewFromInt(68)))
	})

	t.Run("trade closed fails payment", func(t *testing.T) {
		ev, err := a.VerifyAndExtract(ctx, notification(t, k, tradeParams("TRADE_CLOSED")), nil)
		require.NoError(t, err)
		require.Equal(t, gateway.EventFailed, ev.Outcome)
	})

	t.Run("waiting trade is ignored", func(t *testing.T) {
		_, err := a.VerifyAndExtract(ctx, notification(t, k, tradeParams("WAIT_BUYER_PAY")), nil)
		require.True(t, errors.Is(err, gateway.ErrEventIgnored))
	})

	t.Run("tampered amount fails verification", func(t *testing.T) {
		body := notification(t, k, tradeParams("TRADE_SUCCESS"))
		tampered := strings.Replace(string(body), "total_amount=68.00", "total_amount=0.01", 1)

		_, err := a.VerifyAndExtract(ctx, []byte(tampered), nil)
		require.True(t, apperr.IsKind(err, apperr.KindVerification))
	})

	t.Run("signed by someone else", func(t *testing.T) {
		other := newKeys(t)
		_, err := a.VerifyAndExtract(ctx, notification(t, other, tradeParams("TRADE_SUCCESS")), nil)
		require.True(t, apperr.IsKind(err, apperr.KindVerification))
	})
}

func TestRefund(t *testing.T) {
	k := newKeys(t)
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got, _ = url.ParseQuery(string(body))
		inner := `{"code":"10000","msg":"Success","trade_no":"2025030122001","fund_change":"Y"}`
		sig, err := rsakeys.Sign(k.alipay, []byte(inner))
		assert.NoError(t, err)
		_, _ = fmt.Fprintf(w, `{"alipay_trade_refund_response":%s,"sign":"%s"}`, inner, sig)
	}))
	defer srv.Close()

	a := newAdapter(t, k, srv.URL)
	rec, err := a.Refund(context.Background(), gateway.RefundRequest{
		RefundID:              "rf-1",
		ProviderTransactionID: "pay-1",
		Amount:                decimal.RequireFromString("10"),
		Currency:              "CNY",
	})
	require.NoError(t, err)
	require.Equal(t, "rf-1", rec.ProviderRefundID)
	require.Equal(t, "alipay.trade.refund", got.Get("method"))
	require.Contains(t, got.Get("biz_content"), `"refund_amount":"10.00"`)
}

func TestAcknowledge(t *testing.T) {
	a := &Adapter{}
	require.Equal(t, "success", string(a.Acknowledge(gateway.OutcomeProcessed).Body))
	require.Equal(t, "success", string(a.Acknowledge(gateway.OutcomeDuplicate).Body))
	require.Equal(t, "fail", string(a.Acknowledge(gateway.OutcomeRejected).Body))
	require.Equal(t, "fail", string(a.Acknowledge(gateway.OutcomeRetry).Body))
}
