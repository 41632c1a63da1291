package model

import (
	"encoding/json"
	"time"
)

// SettlementStatus is the gateway-side outcome of a payment.
type SettlementStatus string

const (
	SettlementPending   SettlementStatus = "pending"
	SettlementSuccess   SettlementStatus = "success"
	SettlementFailed    SettlementStatus = "failed"
	SettlementCancelled SettlementStatus = "cancelled"
)

// Terminal reports whether the gateway has decided the payment.
func (s SettlementStatus) Terminal() bool {
	return s == SettlementSuccess || s == SettlementFailed || s == SettlementCancelled
}

// PaymentIntent is the signed request sent to the gateway for one
// checkout attempt. It is never updated; a retry builds a new one.
// Amount is in the currency's minor unit.
type PaymentIntent struct {
	OrderCode       string `json:"order_code"`
	OriginalOrderID string `json:"original_order_id"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	Description     string `json:"description"`
	CancelURL       string `json:"cancel_url"`
	ReturnURL       string `json:"return_url"`
	Signature       string `json:"-"`
	CheckoutURL     string `json:"checkout_url,omitempty"`
}

// PaymentStatusRecord is the cached view of a payment keyed by the
// gateway's order code. Amount is in minor units, like the intent.
type PaymentStatusRecord struct {
	OrderCode       string            `json:"order_code"`
	Status          SettlementStatus  `json:"status"`
	OriginalOrderID string            `json:"original_order_id"`
	Amount          int64             `json:"amount"`
	Currency        string            `json:"currency"`
	Description     string            `json:"description"`
	CreatedAt       time.Time         `json:"created_at"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	GatewayPayload  json.RawMessage   `json:"gateway_payload,omitempty"`
	Draft           *ReservationDraft `json:"draft,omitempty"`
}
