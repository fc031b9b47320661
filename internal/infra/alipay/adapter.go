package alipay

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"subscription-billing/internal/domain/money"
	"subscription-billing/internal/gateway"
	"subscription-billing/internal/infra/rsakeys"
	"subscription-billing/internal/logger"
)

const Provider = "alipay"

type Config struct {
	AppID      string
	PrivateKey string
	PublicKey  string
	GatewayURL string
	NotifyURL  string
	ReturnURL  string
	Timeout    time.Duration
}

// Adapter is the second wallet variant: Alipay page pay with RSA2-signed
// requests and asynchronous form-encoded notifications.
type Adapter struct {
	cfg       Config
	priv      *rsa.PrivateKey
	alipayPub *rsa.PublicKey
	http      *http.Client
	loc       *time.Location
	now       func() time.Time
	log       *zap.Logger
}

func New(cfg Config, log *zap.Logger) (*Adapter, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	priv, err := rsakeys.ParsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("alipay private key: %w", err)
	}
	pub, err := rsakeys.ParsePublicKey(cfg.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("alipay public key: %w", err)
	}
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		loc = time.FixedZone("CST", 8*3600)
	}
	return &Adapter{
		cfg:       cfg,
		priv:      priv,
		alipayPub: pub,
		http:      &http.Client{Timeout: cfg.Timeout},
		loc:       loc,
		now:       time.Now,
		log:       logger.OrNop(log).Named("alipay"),
	}, nil
}

func (a *Adapter) Provider() string { return Provider }

func (a *Adapter) Currencies() []string { return []string{"CNY"} }

// signedParams returns the signed request envelope for method.
func (a *Adapter) signedParams(method string, biz any, extra map[string]string) (url.Values, error) {
	bizJSON, err := json.Marshal(biz)
	if err != nil {
		return nil, err
	}
	p := url.Values{}
	p.Set("app_id", a.cfg.AppID)
	p.Set("method", method)
	p.Set("format", "JSON")
	p.Set("charset", "utf-8")
	p.Set("sign_type", "RSA2")
	p.Set("timestamp", a.now().In(a.loc).Format("2006-01-02 15:04:05"))
	p.Set("version", "1.0")
	p.Set("biz_content", string(bizJSON))
	for k, v := range extra {
		if v != "" {
			p.Set(k, v)
		}
	}

	sig, err := rsakeys.Sign(a.priv, []byte(signContent(p, "sign")))
	if err != nil {
		return nil, err
	}
	p.Set("sign", sig)
	return p, nil
}

// CreateIntent builds the signed alipay.trade.page.pay redirect. Nothing is
// sent to Alipay until the user follows the URL; out_trade_no is our
// payment id and is what notifications come back with.
func (a *Adapter) CreateIntent(_ context.Context, req gateway.IntentRequest) (*gateway.PaymentDescriptor, error) {
	total, err := money.Format(req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}
	subject := req.Description
	if subject == "" {
		subject = "Subscription " + req.OrderID
	}
	returnURL := a.cfg.ReturnURL
	if req.ReturnURL != "" {
		returnURL = req.ReturnURL
	}

	params, err := a.signedParams("alipay.trade.page.pay", map[string]string{
		"out_trade_no":    req.PaymentID,
		"product_code":    "FAST_INSTANT_TRADE_PAY",
		"total_amount":    total,
		"subject":         subject,
		"passback_params": url.QueryEscape(req.OrderID),
	}, map[string]string{
		"notify_url": a.cfg.NotifyURL,
		"return_url": returnURL,
	})
	if err != nil {
		return nil, gateway.ProviderError(Provider, err)
	}

	payload, _ := json.Marshal(map[string]string{"out_trade_no": req.PaymentID, "total_amount": total})
	return &gateway.PaymentDescriptor{
		Provider:              Provider,
		ProviderTransactionID: req.PaymentID,
		RedirectURL:           a.cfg.GatewayURL + "?" + params.Encode(),
		Payload:               payload,
	}, nil
}

// Acknowledge answers with the plain-text body Alipay expects. Anything but
// "success" makes Alipay redeliver on its own backoff schedule.
func (a *Adapter) Acknowledge(outcome gateway.Outcome) gateway.Ack {
	body := "success"
	if outcome == gateway.OutcomeRetry || outcome == gateway.OutcomeRejected {
		body = "fail"
	}
	return gateway.Ack{Status: http.StatusOK, ContentType: "text/plain; charset=utf-8", Body: []byte(body)}
}
