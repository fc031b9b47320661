package paypal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subscription-billing/internal/domain/apperr"
	"subscription-billing/internal/gateway"
)

type fakePayPal struct {
	verification  string
	lastBody      map[string]any
	requestIDs    []string
	captureStatus int
	captureBody   string
	captures      []string
}

func (f *fakePayPal) server(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "client", user)
		assert.Equal(t, "secret", pass)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/v2/checkout/orders", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		f.requestIDs = append(f.requestIDs, r.Header.Get("PayPal-Request-Id"))
		_ = json.NewDecoder(r.Body).Decode(&f.lastBody)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"5O190127","status":"CREATED","links":[{"href":"https://paypal.test/checkoutnow?token=5O190127","rel":"approve"}]}`))
	})
	mux.HandleFunc("/v2/checkout/orders/5O190127/capture", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		f.captures = append(f.captures, r.Header.Get("PayPal-Request-Id"))
		status := f.captureStatus
		if status == 0 {
			status = http.StatusCreated
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(f.captureBody))
	})
	mux.HandleFunc("/v1/notifications/verify-webhook-signature", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&f.lastBody)
		_, _ = w.Write([]byte(`{"verification_status":"` + f.verification + `"}`))
	})
	mux.HandleFunc("/v2/payments/captures/CAP-1/refund", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&f.lastBody)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"RF-1","status":"COMPLETED"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newAdapter(url string) *Adapter {
	return New(Config{ClientID: "client", ClientSecret: "secret", WebhookID: "WH-1", APIURL: url, ReturnURL: "https://app.test/return"}, nil)
}

func signedHeaders() http.Header {
	h := http.Header{}
	h.Set("PAYPAL-AUTH-ALGO", "SHA256withRSA")
	h.Set("PAYPAL-CERT-URL", "https://api.paypal.com/cert.pem")
	h.Set("PAYPAL-TRANSMISSION-ID", "tx-1")
	h.Set("PAYPAL-TRANSMISSION-SIG", "sig")
	h.Set("PAYPAL-TRANSMISSION-TIME", "2025-03-01T12:00:00Z")
	return h
}

const captureCompleted = `{
	"id": "WH-EVT-1",
	"event_type": "PAYMENT.CAPTURE.COMPLETED",
	"resource": {
		"id": "CAP-1",
		"status": "COMPLETED",
		"amount": {"currency_code": "USD", "value": "9.99"},
		"supplementary_data": {"related_ids": {"order_id": "5O190127"}}
	}
}`

func TestCreateIntent(t *testing.T) {
	f := &fakePayPal{}
	a := newAdapter(f.server(t).URL)

	d, err := a.CreateIntent(context.Background(), gateway.IntentRequest{
		PaymentID: "pay-1",
		OrderID:   "ord-1",
		Amount:    decimal.RequireFromString("9.99"),
		Currency:  "usd",
	})
	require.NoError(t, err)
	require.Equal(t, "5O190127", d.ProviderTransactionID)
	require.Contains(t, d.RedirectURL, "checkoutnow")
	require.Equal(t, []string{"pay-1"}, f.requestIDs)

	units := f.lastBody["purchase_units"].([]any)
	amt := units[0].(map[string]any)["amount"].(map[string]any)
	require.Equal(t, "9.99", amt["value"])
	require.Equal(t, "USD", amt["currency_code"])
}

func TestVerifyAndExtract(t *testing.T) {
	ctx := context.Background()

	t.Run("verified capture", func(t *testing.T) {
		f := &fakePayPal{verification: "SUCCESS"}
		a := newAdapter(f.server(t).URL)

		ev, err := a.VerifyAndExtract(ctx, []byte(captureCompleted), signedHeaders())
		require.NoError(t, err)
		require.Equal(t, gateway.EventSucceeded, ev.Outcome)
		require.Equal(t, "5O190127", ev.ProviderTransactionID)
		require.Equal(t, "CAP-1", ev.ProviderReference)
		require.True(t, ev.Amount.Equal(decimal.RequireFromString("9.99")))
		require.Equal(t, "WH-1", f.lastBody["webhook_id"])
	})

	t.Run("verification failure", func(t *testing.T) {
		f := &fakePayPal{verification: "FAILURE"}
		a := newAdapter(f.server(t).URL)

		_, err := a.VerifyAndExtract(ctx, []byte(captureCompleted), signedHeaders())
		require.True(t, apperr.IsKind(err, apperr.KindVerification))
	})

	t.Run("missing headers never reach paypal", func(t *testing.T) {
		a := newAdapter("http://127.0.0.1:1")

		_, err := a.VerifyAndExtract(ctx, []byte(captureCompleted), http.Header{})
		require.True(t, apperr.IsKind(err, apperr.KindVerification))
	})

	t.Run("other events are ignored", func(t *testing.T) {
		f := &fakePayPal{verification: "SUCCESS"}
		a := newAdapter(f.server(t).URL)

		_, err := a.VerifyAndExtract(ctx, []byte(`{"id":"WH-2","event_type":"CUSTOMER.DISPUTE.CREATED","resource":{}}`), signedHeaders())
		require.True(t, errors.Is(err, gateway.ErrEventIgnored))
	})

	t.Run("verification endpoint down is retryable", func(t *testing.T) {
		a := newAdapter("http://127.0.0.1:1")

		_, err := a.VerifyAndExtract(ctx, []byte(captureCompleted), signedHeaders())
		require.True(t, apperr.IsKind(err, apperr.KindExternalService))
	})
}

const orderApproved = `{
	"id": "WH-EVT-0",
	"event_type": "CHECKOUT.ORDER.APPROVED",
	"resource": {
		"id": "5O190127",
		"status": "APPROVED",
		"purchase_units": [{"amount": {"currency_code": "USD", "value": "9.99"}}]
	}
}`

func captureResult(status string) string {
	return `{"id":"5O190127","status":"COMPLETED","purchase_units":[{"payments":{"captures":[` +
		`{"id":"CAP-1","status":"` + status + `","amount":{"currency_code":"USD","value":"9.99"}}]}}]}`
}

func TestVerifyAndExtract_ApprovedOrderIsCaptured(t *testing.T) {
	ctx := context.Background()

	t.Run("completed capture settles", func(t *testing.T) {
		f := &fakePayPal{verification: "SUCCESS", captureBody: captureResult("COMPLETED")}
		a := newAdapter(f.server(t).URL)

		ev, err := a.VerifyAndExtract(ctx, []byte(orderApproved), signedHeaders())
		require.NoError(t, err)
		require.Equal(t, gateway.EventSucceeded, ev.Outcome)
		require.Equal(t, "5O190127", ev.ProviderTransactionID)
		require.Equal(t, "CAP-1", ev.ProviderReference)
		require.Equal(t, "USD", ev.Currency)
		require.True(t, ev.Amount.Equal(decimal.RequireFromString("9.99")))

		// a redelivered approval reuses the same request id
		_, err = a.VerifyAndExtract(ctx, []byte(orderApproved), signedHeaders())
		require.NoError(t, err)
		require.Equal(t, []string{"capture-5O190127", "capture-5O190127"}, f.captures)
	})

	t.Run("pending capture waits for the capture webhook", func(t *testing.T) {
		f := &fakePayPal{verification: "SUCCESS", captureBody: captureResult("PENDING")}
		a := newAdapter(f.server(t).URL)

		_, err := a.VerifyAndExtract(ctx, []byte(orderApproved), signedHeaders())
		require.True(t, errors.Is(err, gateway.ErrEventIgnored))
		require.Len(t, f.captures, 1)
	})

	t.Run("declined capture fails the payment", func(t *testing.T) {
		f := &fakePayPal{verification: "SUCCESS", captureBody: captureResult("DECLINED")}
		a := newAdapter(f.server(t).URL)

		ev, err := a.VerifyAndExtract(ctx, []byte(orderApproved), signedHeaders())
		require.NoError(t, err)
		require.Equal(t, gateway.EventFailed, ev.Outcome)
		require.Equal(t, "DECLINED", ev.FailureReason)
	})

	t.Run("already captured order is ignored", func(t *testing.T) {
		f := &fakePayPal{
			verification:  "SUCCESS",
			captureStatus: http.StatusUnprocessableEntity,
			captureBody:   `{"name":"UNPROCESSABLE_ENTITY","details":[{"issue":"ORDER_ALREADY_CAPTURED"}]}`,
		}
		a := newAdapter(f.server(t).URL)

		_, err := a.VerifyAndExtract(ctx, []byte(orderApproved), signedHeaders())
		require.True(t, errors.Is(err, gateway.ErrEventIgnored))
	})

	t.Run("capture outage is retryable", func(t *testing.T) {
		f := &fakePayPal{verification: "SUCCESS", captureStatus: http.StatusServiceUnavailable, captureBody: `{}`}
		a := newAdapter(f.server(t).URL)

		_, err := a.VerifyAndExtract(ctx, []byte(orderApproved), signedHeaders())
		require.True(t, apperr.IsKind(err, apperr.KindExternalService))
	})
}

func TestRefund(t *testing.T) {
	f := &fakePayPal{}
	a := newAdapter(f.server(t).URL)

	rec, err := a.Refund(context.Background(), gateway.RefundRequest{
		RefundID:          "rf-1",
		PaymentID:         "pay-1",
		ProviderReference: "CAP-1",
		Amount:            decimal.RequireFromString("5"),
		Currency:          "USD",
	})
	require.NoError(t, err)
	require.Equal(t, "RF-1", rec.ProviderRefundID)
	require.Equal(t, "5.00", f.lastBody["amount"].(map[string]any)["value"])

	_, err = a.Refund(context.Background(), gateway.RefundRequest{PaymentID: "pay-2", Amount: decimal.NewFromInt(1), Currency: "USD"})
	require.True(t, apperr.IsKind(err, apperr.KindBusinessLogic))
}
