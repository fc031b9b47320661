package alipay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"subscription-billing/internal/domain/money"
	"subscription-billing/internal/gateway"
	"subscription-billing/internal/infra/rsakeys"
)

type refundEnvelope struct {
	Response json.RawMessage `json:"alipay_trade_refund_response"`
	Sign     string          `json:"sign"`
}

type refundResponse struct {
	Code       string `json:"code"`
	Msg        string `json:"msg"`
	SubCode    string `json:"sub_code"`
	SubMsg     string `json:"sub_msg"`
	TradeNo    string `json:"trade_no"`
	FundChange string `json:"fund_change"`
}

// Refund calls alipay.trade.refund. out_request_no makes partial refunds
// idempotent on Alipay's side.
func (a *Adapter) Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.RefundReceipt, error) {
	amount, err := money.Format(req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}
	params, err := a.signedParams("alipay.trade.refund", map[string]string{
		"out_trade_no":   req.ProviderTransactionID,
		"refund_amount":  amount,
		"out_request_no": req.RefundID,
		"refund_reason":  req.Reason,
	}, nil)
	if err != nil {
		return nil, gateway.ProviderError(Provider, err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.GatewayURL, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, gateway.ProviderError(Provider, err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=utf-8")

	resp, err := a.http.Do(httpReq)
	if err != nil {
		return nil, gateway.ProviderError(Provider, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, gateway.ProviderError(Provider, err)
	}

	var env refundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, gateway.ProviderError(Provider, fmt.Errorf("decode refund response: %w", err))
	}
	if err := rsakeys.Verify(a.alipayPub, env.Response, env.Sign); err != nil {
		return nil, gateway.ProviderError(Provider, fmt.Errorf("refund response signature: %w", err))
	}
	var out refundResponse
	if err := json.Unmarshal(env.Response, &out); err != nil {
		return nil, gateway.ProviderError(Provider, err)
	}
	if out.Code != "10000" {
		return nil, gateway.ProviderError(Provider, fmt.Errorf("refund rejected: %s %s %s", out.Code, out.SubCode, out.SubMsg))
	}
	return &gateway.RefundReceipt{ProviderRefundID: req.RefundID, Status: "fund_change=" + out.FundChange}, nil
}
