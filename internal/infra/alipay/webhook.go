package alipay

import (
	"context"
	"net/http"
	"net/url"

	"subscription-billing/internal/domain/apperr"
	"subscription-billing/internal/domain/money"
	"subscription-billing/internal/gateway"
	"subscription-billing/internal/infra/rsakeys"
)

// VerifyAndExtract checks the RSA2 signature over the sorted notification
// parameters (sign and sign_type excluded) and normalizes trade status.
func (a *Adapter) VerifyAndExtract(_ context.Context, body []byte, _ http.Header) (*gateway.SettlementEvent, error) {
	params, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, apperr.Verification("alipay: malformed form body: %v", err)
	}
	sig := params.Get("sign")
	if sig == "" {
		return nil, apperr.Verification("alipay: missing sign")
	}
	if err := rsakeys.Verify(a.alipayPub, []byte(signContent(params, "sign", "sign_type")), sig); err != nil {
		return nil, apperr.Verification("alipay: bad signature: %v", err)
	}
	if params.Get("app_id") != a.cfg.AppID {
		return nil, apperr.Verification("alipay: notification for app %q", params.Get("app_id"))
	}

	ev := &gateway.SettlementEvent{
		Provider:              Provider,
		EventID:               params.Get("notify_id"),
		EventType:             params.Get("trade_status"),
		ProviderTransactionID: params.Get("out_trade_no"),
		ProviderReference:     params.Get("trade_no"),
		Currency:              "CNY",
		Raw:                   body,
	}

	switch ev.EventType {
	case "TRADE_SUCCESS", "TRADE_FINISHED":
		ev.Outcome = gateway.EventSucceeded
	case "TRADE_CLOSED":
		ev.Outcome = gateway.EventFailed
		ev.FailureReason = "trade closed"
	default:
		return ev, gateway.ErrEventIgnored
	}

	if ev.ProviderTransactionID == "" {
		return nil, apperr.Validation("invalid_payload", "alipay notification without out_trade_no")
	}
	amount, err := money.Parse(params.Get("total_amount"))
	if err != nil {
		return nil, apperr.Validation("invalid_payload", "alipay total_amount: %v", err)
	}
	ev.Amount = amount
	return ev, nil
}
