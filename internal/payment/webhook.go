package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/iliyamo/hotel-settlement/internal/apperr"
	"github.com/iliyamo/hotel-settlement/internal/config"
	"github.com/iliyamo/hotel-settlement/internal/model"
)

// Webhook anomalies reported back in WebhookResult.Error.
const (
	errMalformed   = "malformed payload"
	errNoOrderCode = "missing orderCode"
	errNotFound    = "not found"
	errConflict    = "conflicting terminal status"
	errAmount      = "amount mismatch"
	errStore       = "store unavailable"
)

// WebhookResult is the acknowledgement body. Received is true for every
// payload that reached the ingestor.
type WebhookResult struct {
	Received  bool                   `json:"received"`
	OrderCode string                 `json:"order_code,omitempty"`
	Status    model.SettlementStatus `json:"status,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// webhookData is the nested shape {code, data: {orderCode, ...}}.
type webhookData struct {
	OrderCode orderCode `json:"orderCode"`
	Code      string    `json:"code"`
	Status    string    `json:"status"`
	Amount    *int64    `json:"amount"`
}

type webhookEnvelope struct {
	Code      string          `json:"code"`
	Desc      string          `json:"desc"`
	Status    string          `json:"status"`
	OrderCode orderCode       `json:"orderCode"`
	Amount    *int64          `json:"amount"`
	Data      json.RawMessage `json:"data"`
}

// notification is a validated webhook after the discriminated parse. In
// the nested shape code acknowledges the delivery and dataCode carries the
// transaction result.
type notification struct {
	orderCode string
	code      string
	dataCode  string
	status    string
	amount    *int64
}

// codes returns the result codes present on the notification.
func (n *notification) codes() []string {
	out := make([]string, 0, 2)
	for _, c := range []string{n.code, n.dataCode} {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

// parseNotification accepts exactly the two known shapes. A data member
// that is present must be an object; the order code is taken from it and
// falls back to the top level.
func parseNotification(raw []byte) (*notification, string) {
	var env webhookEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errMalformed
	}
	n := &notification{
		orderCode: string(env.OrderCode),
		code:      strings.TrimSpace(env.Code),
		status:    env.Status,
		amount:    env.Amount,
	}
	if d := bytes.TrimSpace(env.Data); len(d) > 0 && string(d) != "null" {
		if d[0] != '{' {
			return nil, errMalformed
		}
		var data webhookData
		if err := json.Unmarshal(d, &data); err != nil {
			return nil, errMalformed
		}
		if data.OrderCode != "" {
			n.orderCode = string(data.OrderCode)
		}
		n.dataCode = strings.TrimSpace(data.Code)
		if data.Status != "" {
			n.status = data.Status
		}
		if data.Amount != nil {
			n.amount = data.Amount
		}
	}
	if n.orderCode == "" {
		return nil, errNoOrderCode
	}
	return n, ""
}

// WebhookIngestor applies gateway notifications to the status store.
type WebhookIngestor struct {
	store       StatusStore
	cancelCodes map[string]bool
	pendingTTL  time.Duration
	successTTL  time.Duration
	now         func() time.Time
}

func NewWebhookIngestor(store StatusStore, cfg config.PaymentConfig) *WebhookIngestor {
	codes := make(map[string]bool, len(cfg.CancelCodes))
	for _, c := range cfg.CancelCodes {
		codes[strings.ToUpper(strings.TrimSpace(c))] = true
	}
	return &WebhookIngestor{
		store:       store,
		cancelCodes: codes,
		pendingTTL:  cfg.PendingTTL,
		successTTL:  cfg.SuccessTTL,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// classify maps a notification onto a terminal status. Success needs at
// least one code and every present code equal to the success code; unknown
// or disagreeing codes are failures.
func (w *WebhookIngestor) classify(n *notification) model.SettlementStatus {
	codes := n.codes()
	if strings.EqualFold(n.status, "CANCELLED") {
		return model.SettlementCancelled
	}
	for _, c := range codes {
		if w.cancelCodes[strings.ToUpper(c)] {
			return model.SettlementCancelled
		}
	}
	if len(codes) == 0 {
		return model.SettlementFailed
	}
	for _, c := range codes {
		if c != gatewaySuccess {
			if len(codes) > 1 && codes[0] != codes[1] {
				log.Printf("webhook: order %s codes disagree (code=%q data.code=%q), treating as failed", n.orderCode, n.code, n.dataCode)
			}
			return model.SettlementFailed
		}
	}
	return model.SettlementSuccess
}

// Ingest never returns an error: every outcome is folded into the result
// so the HTTP layer can acknowledge and the gateway stops retrying.
func (w *WebhookIngestor) Ingest(ctx context.Context, raw []byte) WebhookResult {
	n, perr := parseNotification(raw)
	if perr != "" {
		log.Printf("webhook: rejected payload: %s", perr)
		return WebhookResult{Received: true, Error: perr}
	}
	status := w.classify(n)
	result := WebhookResult{Received: true, OrderCode: n.orderCode}

	merged, err := w.store.Merge(ctx, n.orderCode, func(rec *model.PaymentStatusRecord) (time.Duration, bool, error) {
		result.Error = ""
		next := status
		if next == model.SettlementSuccess && n.amount != nil && *n.amount != rec.Amount {
			log.Printf("webhook: order %s amount %d does not match intent amount %d", n.orderCode, *n.amount, rec.Amount)
			next = model.SettlementFailed
			result.Error = errAmount
		}
		if rec.Status.Terminal() {
			if rec.Status != next {
				result.Error = errConflict
				return 0, false, nil
			}
			// Same outcome replayed: keep status and completedAt, refresh the payload.
			if bytes.Equal(rec.GatewayPayload, raw) {
				return 0, false, nil
			}
			rec.GatewayPayload = append(json.RawMessage(nil), raw...)
			return w.ttlFor(next), true, nil
		}
		now := w.now()
		rec.Status = next
		rec.CompletedAt = &now
		rec.GatewayPayload = append(json.RawMessage(nil), raw...)
		return w.ttlFor(next), true, nil
	})
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		log.Printf("webhook: notification for unknown order %s", n.orderCode)
		result.Error = errNotFound
		return result
	case err != nil:
		log.Printf("webhook: merge order %s failed: %v", n.orderCode, err)
		result.Error = errStore
		return result
	}
	if result.Error == errConflict {
		log.Printf("webhook: order %s already %s, ignoring %s", n.orderCode, merged.Status, status)
	}
	result.Status = merged.Status
	return result
}

// ttlFor is the record lifetime after a terminal write.
func (w *WebhookIngestor) ttlFor(status model.SettlementStatus) time.Duration {
	if status == model.SettlementSuccess {
		return w.successTTL
	}
	return w.pendingTTL
}
