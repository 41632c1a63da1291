package config

import (
	"log"
	"strings"
	"time"

	"github.com/iliyamo/hotel-settlement/internal/ledger"
)

// PaymentConfig configures the outbound gateway client and the webhook guard.
type PaymentConfig struct {
	GatewayURL    string
	ClientID      string
	APIKey        string
	ChecksumKey   string // HMAC key for intent signatures and webhook bodies
	WebhookSecret string // optional shared-secret header alternative
	FrontendURL   string // base of cancelUrl/returnUrl
	Timeout       time.Duration
	PendingTTL    time.Duration
	SuccessTTL    time.Duration
	CancelCodes   []string
}

func LoadPaymentConfig() PaymentConfig {
	return PaymentConfig{
		GatewayURL:    strings.TrimSuffix(must("PAYMENT_GATEWAY_URL"), "/"),
		ClientID:      must("PAYMENT_CLIENT_ID"),
		APIKey:        must("PAYMENT_API_KEY"),
		ChecksumKey:   must("PAYMENT_CHECKSUM_KEY"),
		WebhookSecret: envStr("PAYMENT_WEBHOOK_SECRET", ""),
		FrontendURL:   strings.TrimSuffix(envStr("FRONTEND_URL", "http://localhost:3000"), "/"),
		Timeout:       envDur("PAYMENT_GATEWAY_TIMEOUT", 10*time.Second),
		PendingTTL:    envDur("PAYMENT_PENDING_TTL", 1800*time.Second),
		SuccessTTL:    envDur("PAYMENT_SUCCESS_TTL", 3600*time.Second),
		CancelCodes:   envList("PAYMENT_CANCEL_CODES", "CANCELLED"),
	}
}

// SettlementConfig configures the poll-side orchestrator.
type SettlementConfig struct {
	PollInterval time.Duration // advertised to clients as retry_after_ms
	Timeout      time.Duration // pending beyond this since first poll is unresolved
	ClaimWait    time.Duration // how long a losing poller waits for the winner
}

func LoadSettlementConfig() SettlementConfig {
	return SettlementConfig{
		PollInterval: envDur("SETTLEMENT_POLL_INTERVAL", 2*time.Second),
		Timeout:      envDur("SETTLEMENT_TIMEOUT", 60*time.Second),
		ClaimWait:    envDur("SETTLEMENT_CLAIM_WAIT", 3*time.Second),
	}
}

// LedgerConfig holds the currency table and the flat tax rate.
type LedgerConfig struct {
	Currencies ledger.Currencies
	TaxRate    float64
}

const defaultMinorUnits = "VND:0,JPY:0,KRW:0,USD:2,EUR:2"

func LoadLedgerConfig() LedgerConfig {
	raw := envStr("CURRENCY_MINOR_UNITS", defaultMinorUnits)
	cur, err := ledger.ParseCurrencies(raw)
	if err != nil {
		log.Fatalf("invalid CURRENCY_MINOR_UNITS: %v", err)
	}
	rate := envFloat("TAX_RATE", 0.1)
	if rate < 0 {
		log.Fatalf("invalid TAX_RATE: %v", rate)
	}
	return LedgerConfig{Currencies: cur, TaxRate: rate}
}
