// Package payment settles reservations paid through an external gateway.
// Gateway sends signed intents and seeds the status store, WebhookIngestor
// merges the gateway's asynchronous verdict into it, and Orchestrator
// answers client polls and creates the reservation at most once per
// successful order.
package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Signer computes HMAC-SHA256 signatures with the gateway checksum key.
type Signer struct {
	key []byte
}

func NewSigner(checksumKey string) Signer {
	return Signer{key: []byte(checksumKey)}
}

// SigningString builds the canonical string for an intent. Keys are in
// fixed alphabetical order and values are not escaped.
func SigningString(amount int64, cancelURL, description, orderCode, returnURL string) string {
	var b strings.Builder
	b.WriteString("amount=")
	b.WriteString(strconv.FormatInt(amount, 10))
	b.WriteString("&cancelUrl=")
	b.WriteString(cancelURL)
	b.WriteString("&description=")
	b.WriteString(description)
	b.WriteString("&orderCode=")
	b.WriteString(orderCode)
	b.WriteString("&returnUrl=")
	b.WriteString(returnURL)
	return b.String()
}

// SignIntent returns the hex signature for the intent fields.
func (s Signer) SignIntent(amount int64, cancelURL, description, orderCode, returnURL string) string {
	return s.Sign([]byte(SigningString(amount, cancelURL, description, orderCode, returnURL)))
}

// Sign returns hex(HMAC-SHA256(msg, key)).
func (s Signer) Sign(msg []byte) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares a hex signature against msg in constant time.
func (s Signer) Verify(msg []byte, signature string) bool {
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write(msg)
	return hmac.Equal(got, mac.Sum(nil))
}
