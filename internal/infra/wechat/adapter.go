package wechat

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"subscription-billing/internal/domain/money"
	"subscription-billing/internal/gateway"
	"subscription-billing/internal/infra/rsakeys"
	"subscription-billing/internal/logger"
)

const Provider = "wechat"

type Config struct {
	MchID             string
	AppID             string
	SerialNo          string
	PrivateKey        string
	PlatformPublicKey string
	APIv3Key          string
	NotifyURL         string
	APIURL            string
	Timeout           time.Duration
}

// Adapter is the QR-code variant: WeChat Pay v3 Native payments. The
// descriptor carries the code_url the front end renders as a QR code.
type Adapter struct {
	cfg         Config
	priv        *rsa.PrivateKey
	platformPub *rsa.PublicKey
	http        *http.Client
	now         func() time.Time
	nonce       func() string
	log         *zap.Logger
}

func New(cfg Config, log *zap.Logger) (*Adapter, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if len(cfg.APIv3Key) != 32 {
		return nil, fmt.Errorf("wechat APIv3 key must be 32 bytes")
	}
	priv, err := rsakeys.ParsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("wechat merchant key: %w", err)
	}
	pub, err := rsakeys.ParsePublicKey(cfg.PlatformPublicKey)
	if err != nil {
		return nil, fmt.Errorf("wechat platform key: %w", err)
	}
	return &Adapter{
		cfg:         cfg,
		priv:        priv,
		platformPub: pub,
		http:        &http.Client{Timeout: cfg.Timeout},
		now:         time.Now,
		nonce:       func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") },
		log:         logger.OrNop(log).Named("wechat"),
	}, nil
}

func (a *Adapter) Provider() string { return Provider }

func (a *Adapter) Currencies() []string { return []string{"CNY"} }

type apiError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("wechat api: status %d: %s %s", e.Status, e.Code, e.Message)
}

func (a *Adapter) call(ctx context.Context, method, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	auth, err := a.authorization(method, path, body)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(a.cfg.APIURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", auth)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e := &apiError{Status: resp.StatusCode}
		_ = json.Unmarshal(raw, e)
		return e
	}
	if err := a.verifySignature(resp.Header, raw); err != nil {
		return fmt.Errorf("response signature: %w", err)
	}
	if out != nil {
		return json.Unmarshal(raw, out)
	}
	return nil
}

type nativeResponse struct {
	CodeURL string `json:"code_url"`
}

func (a *Adapter) CreateIntent(ctx context.Context, req gateway.IntentRequest) (*gateway.PaymentDescriptor, error) {
	fen, err := money.ToMinor(req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}
	desc := req.Description
	if desc == "" {
		desc = "Subscription " + req.OrderID
	}

	body := map[string]any{
		"appid":        a.cfg.AppID,
		"mchid":        a.cfg.MchID,
		"description":  desc,
		"out_trade_no": outTradeNo(req.PaymentID),
		"notify_url":   a.cfg.NotifyURL,
		"attach":       req.OrderID,
		"amount":       map[string]any{"total": fen, "currency": money.Normalize(req.Currency)},
	}
	var out nativeResponse
	if err := a.call(ctx, http.MethodPost, "/v3/pay/transactions/native", body, &out); err != nil {
		return nil, gateway.ProviderError(Provider, err)
	}
	if out.CodeURL == "" {
		return nil, gateway.ProviderError(Provider, fmt.Errorf("native order without code_url"))
	}

	payload, _ := json.Marshal(map[string]any{"out_trade_no": outTradeNo(req.PaymentID), "total": fen})
	return &gateway.PaymentDescriptor{
		Provider:              Provider,
		ProviderTransactionID: outTradeNo(req.PaymentID),
		QRCode:                out.CodeURL,
		Payload:               payload,
	}, nil
}

type refundResponse struct {
	RefundID string `json:"refund_id"`
	Status   string `json:"status"`
}

func (a *Adapter) Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.RefundReceipt, error) {
	refundFen, err := money.ToMinor(req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}
	totalFen, err := money.ToMinor(req.TotalAmount, req.Currency)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"out_trade_no":  req.ProviderTransactionID,
		"out_refund_no": outTradeNo(req.RefundID),
		"reason":        req.Reason,
		"amount": map[string]any{
			"refund":   refundFen,
			"total":    totalFen,
			"currency": money.Normalize(req.Currency),
		},
	}
	var out refundResponse
	if err := a.call(ctx, http.MethodPost, "/v3/refund/domestic/refunds", body, &out); err != nil {
		return nil, gateway.ProviderError(Provider, err)
	}
	return &gateway.RefundReceipt{ProviderRefundID: out.RefundID, Status: out.Status}, nil
}

// Acknowledge follows the v3 notification contract: any 2xx means received,
// a 4xx/5xx with code FAIL asks WeChat to redeliver.
func (a *Adapter) Acknowledge(outcome gateway.Outcome) gateway.Ack {
	switch outcome {
	case gateway.OutcomeRetry:
		return gateway.JSONAck(http.StatusInternalServerError, `{"code":"FAIL","message":"temporarily unavailable"}`)
	case gateway.OutcomeRejected:
		return gateway.JSONAck(http.StatusUnauthorized, `{"code":"FAIL","message":"signature verification failed"}`)
	default:
		return gateway.JSONAck(http.StatusOK, `{"code":"SUCCESS","message":"OK"}`)
	}
}

// outTradeNo strips dashes: WeChat allows only [0-9a-zA-Z_*-|] up to 32 chars.
func outTradeNo(id string) string {
	return strings.ReplaceAll(id, "-", "")
}
