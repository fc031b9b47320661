package wechat

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subscription-billing/internal/domain/apperr"
	"subscription-billing/internal/gateway"
	"subscription-billing/internal/infra/rsakeys"
)

const apiV3Key = "0123456789abcdef0123456789abcdef"

type platform struct {
	merchant *rsa.PrivateKey
	wechat   *rsa.PrivateKey
	now      time.Time
}

func newPlatform(t *testing.T) *platform {
	t.Helper()
	m, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	w, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return &platform{merchant: m, wechat: w, now: time.Unix(1740830400, 0)}
}

func (p *platform) adapter(t *testing.T, apiURL string) *Adapter {
	t.Helper()
	pub, err := x509.MarshalPKIXPublicKey(&p.wechat.PublicKey)
	require.NoError(t, err)
	a, err := New(Config{
		MchID:             "1900000001",
		AppID:             "wx123",
		SerialNo:          "SERIAL1",
		PrivateKey:        base64.StdEncoding.EncodeToString(x509.MarshalPKCS1PrivateKey(p.merchant)),
		PlatformPublicKey: base64.StdEncoding.EncodeToString(pub),
		APIv3Key:          apiV3Key,
		NotifyURL:         "https://api.test/callbacks/wechat",
		APIURL:            apiURL,
	}, nil)
	require.NoError(t, err)
	a.now = func() time.Time { return p.now }
	return a
}

// sign produces the Wechatpay-* headers for body.
func (p *platform) sign(t *testing.T, h http.Header, body []byte) {
	ts := strconv.FormatInt(p.now.Unix(), 10)
	sig, err := rsakeys.Sign(p.wechat, []byte(ts+"\nnonce-1\n"+string(body)+"\n"))
	assert.NoError(t, err)
	h.Set("Wechatpay-Timestamp", ts)
	h.Set("Wechatpay-Nonce", "nonce-1")
	h.Set("Wechatpay-Signature", sig)
	h.Set("Wechatpay-Serial", "PLATFORM1")
}

func encrypt(t *testing.T, plaintext []byte) resource {
	t.Helper()
	block, err := aes.NewCipher([]byte(apiV3Key))
	require.NoError(t, err)
	gcm, err := cipher.NewGCMWithNonceSize(block, 12)
	require.NoError(t, err)
	nonce := "abcdefghijkl"
	ct := gcm.Seal(nil, []byte(nonce), plaintext, []byte("transaction"))
	return resource{
		Algorithm:      "AEAD_AES_256_GCM",
		Ciphertext:     base64.StdEncoding.EncodeToString(ct),
		AssociatedData: "transaction",
		Nonce:          nonce,
	}
}

func (p *platform) notification(t *testing.T, state string, total int64) ([]byte, http.Header) {
	t.Helper()
	tx, _ := json.Marshal(map[string]any{
		"out_trade_no":   "pay1",
		"transaction_id": "4200000001",
		"trade_state":    state,
		"amount":         map[string]any{"total": total, "currency": "CNY"},
	})
	body, _ := json.Marshal(notification{
		ID:           "EV-1",
		EventType:    "TRANSACTION.SUCCESS",
		ResourceType: "encrypt-resource",
		Resource:     encrypt(t, tx),
	})
	h := http.Header{}
	p.sign(t, h, body)
	return body, h
}

func TestCreateIntent(t *testing.T) {
	p := newPlatform(t)
	var authHeader string
	var sent map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/pay/transactions/native", r.URL.Path)
		authHeader = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &sent)

		resp := []byte(`{"code_url":"weixin://wxpay/bizpayurl?pr=abc"}`)
		p.sign(t, w.Header(), resp)
		_, _ = w.Write(resp)
	}))
	defer srv.Close()

	a := p.adapter(t, srv.URL)
	d, err := a.CreateIntent(context.Background(), gateway.IntentRequest{
		PaymentID: "pay-1",
		OrderID:   "ord-1",
		Amount:    decimal.RequireFromString("68.00"),
		Currency:  "CNY",
	})
	require.NoError(t, err)
	require.Equal(t, "pay1", d.ProviderTransactionID)
	require.Equal(t, "weixin://wxpay/bizpayurl?pr=abc", d.QRCode)
	require.True(t, strings.HasPrefix(authHeader, "WECHATPAY2-SHA256-RSA2048 "))
	require.Equal(t, float64(6800), sent["amount"].(map[string]any)["total"])
}

func TestCreateIntentRejectsUnsignedResponse(t *testing.T) {
	p := newPlatform(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code_url":"weixin://forged"}`))
	}))
	defer srv.Close()

	_, err := p.adapter(t, srv.URL).CreateIntent(context.Background(), gateway.IntentRequest{
		PaymentID: "pay-1", Amount: decimal.NewFromInt(1), Currency: "CNY",
	})
	require.True(t, apperr.IsKind(err, apperr.KindExternalService))
}

func TestVerifyAndExtract(t *testing.T) {
	p := newPlatform(t)
	a := p.adapter(t, "")
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		body, h := p.notification(t, "SUCCESS", 6800)
		ev, err := a.VerifyAndExtract(ctx, body, h)
		require.NoError(t, err)
		require.Equal(t, gateway.EventSucceeded, ev.Outcome)
		require.Equal(t, "pay1", ev.ProviderTransactionID)
		require.Equal(t, "4200000001", ev.ProviderReference)
		require.True(t, ev.Amount.Equal(decimal.RequireFromString("68")))
	})

	t.Run("closed trade", func(t *testing.T) {
		body, h := p.notification(t, "CLOSED", 6800)
		ev, err := a.VerifyAndExtract(ctx, body, h)
		require.NoError(t, err)
		require.Equal(t, gateway.EventFailed, ev.Outcome)
	})

	t.Run("in-progress state is ignored", func(t *testing.T) {
		body, h := p.notification(t, "USERPAYING", 6800)
		_, err := a.VerifyAndExtract(ctx, body, h)
		require.True(t, errors.Is(err, gateway.ErrEventIgnored))
	})

	t.Run("tampered body", func(t *testing.T) {
		body, h := p.notification(t, "SUCCESS", 6800)
		body = append(body, ' ')
		_, err := a.VerifyAndExtract(ctx, body, h)
		require.True(t, apperr.IsKind(err, apperr.KindVerification))
	})

	t.Run("stale timestamp", func(t *testing.T) {
		body, h := p.notification(t, "SUCCESS", 6800)
		late := p.adapter(t, "")
		late.now = func() time.Time { return p.now.Add(10 * time.Minute) }
		_, err := late.VerifyAndExtract(ctx, body, h)
		require.True(t, apperr.IsKind(err, apperr.KindVerification))
	})
}

func TestRefund(t *testing.T) {
	p := newPlatform(t)
	var sent map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/refund/domestic/refunds", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &sent)
		resp := []byte(`{"refund_id":"50000001","status":"PROCESSING"}`)
		p.sign(t, w.Header(), resp)
		_, _ = w.Write(resp)
	}))
	defer srv.Close()

	rec, err := p.adapter(t, srv.URL).Refund(context.Background(), gateway.RefundRequest{
		RefundID:              "rf-1",
		ProviderTransactionID: "pay1",
		Amount:                decimal.RequireFromString("10"),
		TotalAmount:           decimal.RequireFromString("68"),
		Currency:              "CNY",
	})
	require.NoError(t, err)
	require.Equal(t, "50000001", rec.ProviderRefundID)
	amount := sent["amount"].(map[string]any)
	require.Equal(t, float64(1000), amount["refund"])
	require.Equal(t, float64(6800), amount["total"])
}

func TestAcknowledge(t *testing.T) {
	a := &Adapter{}
	require.Equal(t, http.StatusOK, a.Acknowledge(gateway.OutcomeProcessed).Status)
	require.Equal(t, http.StatusOK, a.Acknowledge(gateway.OutcomeDuplicate).Status)
	require.Equal(t, http.StatusUnauthorized, a.Acknowledge(gateway.OutcomeRejected).Status)
	require.Equal(t, http.StatusInternalServerError, a.Acknowledge(gateway.OutcomeRetry).Status)
}
