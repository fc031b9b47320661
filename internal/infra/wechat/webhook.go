package wechat

import (
	"context"
	"encoding/json"
	"net/http"

	"subscription-billing/internal/domain/apperr"
	"subscription-billing/internal/domain/money"
	"subscription-billing/internal/gateway"
)

type resource struct {
	Algorithm      string `json:"algorithm"`
	Ciphertext     string `json:"ciphertext"`
	AssociatedData string `json:"associated_data"`
	Nonce          string `json:"nonce"`
}

type notification struct {
	ID           string   `json:"id"`
	EventType    string   `json:"event_type"`
	ResourceType string   `json:"resource_type"`
	Resource     resource `json:"resource"`
}

type transaction struct {
	OutTradeNo     string `json:"out_trade_no"`
	TransactionID  string `json:"transaction_id"`
	TradeState     string `json:"trade_state"`
	TradeStateDesc string `json:"trade_state_desc"`
	Attach         string `json:"attach"`
	Amount         struct {
		Total    int64  `json:"total"`
		Currency string `json:"currency"`
	} `json:"amount"`
}

// VerifyAndExtract checks the platform signature, decrypts the resource and
// normalizes the transaction state.
func (a *Adapter) VerifyAndExtract(_ context.Context, body []byte, headers http.Header) (*gateway.SettlementEvent, error) {
	if err := a.verifySignature(headers, body); err != nil {
		return nil, apperr.Verification("wechat: %v", err)
	}

	var n notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, apperr.Validation("invalid_payload", "wechat notification: %v", err)
	}
	if n.ResourceType != "encrypt-resource" {
		return &gateway.SettlementEvent{Provider: Provider, EventID: n.ID, EventType: n.EventType}, gateway.ErrEventIgnored
	}

	plain, err := decryptResource(a.cfg.APIv3Key, n.Resource)
	if err != nil {
		return nil, apperr.Verification("wechat: decrypt resource: %v", err)
	}
	var tx transaction
	if err := json.Unmarshal(plain, &tx); err != nil {
		return nil, apperr.Validation("invalid_payload", "wechat transaction: %v", err)
	}

	ev := &gateway.SettlementEvent{
		Provider:              Provider,
		EventID:               n.ID,
		EventType:             n.EventType,
		ProviderTransactionID: tx.OutTradeNo,
		ProviderReference:     tx.TransactionID,
		Raw:                   plain,
	}
	switch tx.TradeState {
	case "SUCCESS":
		ev.Outcome = gateway.EventSucceeded
	case "CLOSED", "PAYERROR", "REVOKED":
		ev.Outcome = gateway.EventFailed
		ev.FailureReason = tx.TradeStateDesc
		if ev.FailureReason == "" {
			ev.FailureReason = tx.TradeState
		}
	default:
		return ev, gateway.ErrEventIgnored
	}

	currency := money.Normalize(tx.Amount.Currency)
	if currency == "" {
		currency = "CNY"
	}
	amount, err := money.FromMinor(tx.Amount.Total, currency)
	if err != nil {
		return nil, apperr.Validation("invalid_payload", "wechat amount: %v", err)
	}
	ev.Amount = amount
	ev.Currency = currency
	return ev, nil
}
