package payment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/hotel-settlement/internal/model"
)

func TestParseNotification_Shapes(t *testing.T) {
	cases := []struct {
		name         string
		body         string
		wantCode     string
		wantDataCode string
		wantOrder    string
		wantErr      string
	}{
		{"nested numeric", `{"code":"00","data":{"orderCode":123,"amount":100}}`, "00", "", "123", ""},
		{"nested string", `{"code":"00","data":{"orderCode":"ABC"}}`, "00", "", "ABC", ""},
		{"flat", `{"code":"07","orderCode":"456"}`, "07", "", "456", ""},
		{"nested wins", `{"code":"00","orderCode":"1","data":{"orderCode":"2"}}`, "00", "", "2", ""},
		{"nested code only", `{"data":{"orderCode":"9","code":"00"}}`, "", "00", "9", ""},
		{"both codes kept", `{"code":"00","data":{"orderCode":"5","code":"07","desc":"payment declined"}}`, "00", "07", "5", ""},
		{"data without order falls back", `{"code":"00","orderCode":"3","data":{}}`, "00", "", "3", ""},
		{"missing order", `{"code":"00","data":{}}`, "", "", "", errNoOrderCode},
		{"empty object", `{}`, "", "", "", errNoOrderCode},
		{"data array", `{"code":"00","data":[1,2]}`, "", "", "", errMalformed},
		{"data string", `{"code":"00","data":"x","orderCode":"1"}`, "", "", "", errMalformed},
		{"not json", `code=00`, "", "", "", errMalformed},
		{"array", `[]`, "", "", "", errMalformed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n, perr := parseNotification([]byte(tc.body))
			assert.Equal(t, tc.wantErr, perr)
			if tc.wantErr != "" {
				assert.Nil(t, n)
				return
			}
			require.NotNil(t, n)
			assert.Equal(t, tc.wantOrder, n.orderCode)
			assert.Equal(t, tc.wantCode, n.code)
			assert.Equal(t, tc.wantDataCode, n.dataCode)
		})
	}
}

func newTestIngestor(t *testing.T) (*WebhookIngestor, *RedisStatusStore) {
	t.Helper()
	_, store := newTestStore(t)
	cfg := testPaymentConfig("")
	cfg.CancelCodes = []string{"CANCELLED", "24"}
	return NewWebhookIngestor(store, cfg), store
}

func TestWebhookIngestor_Classify(t *testing.T) {
	w, _ := newTestIngestor(t)
	cases := map[string]struct {
		n    notification
		want model.SettlementStatus
	}{
		"success":          {notification{code: "00"}, model.SettlementSuccess},
		"cancel code":      {notification{code: "24"}, model.SettlementCancelled},
		"cancel code case": {notification{code: "cancelled"}, model.SettlementCancelled},
		"cancel status":    {notification{code: "00", status: "CANCELLED"}, model.SettlementCancelled},
		"unknown code":     {notification{code: "99"}, model.SettlementFailed},
		"empty code":       {notification{}, model.SettlementFailed},
		"almost success":   {notification{code: "0"}, model.SettlementFailed},
		"data code only":   {notification{dataCode: "00"}, model.SettlementSuccess},
		"both success":     {notification{code: "00", dataCode: "00"}, model.SettlementSuccess},
		"declined in data": {notification{code: "00", dataCode: "07"}, model.SettlementFailed},
		"declined on top":  {notification{code: "07", dataCode: "00"}, model.SettlementFailed},
		"cancel in data":   {notification{code: "00", dataCode: "24"}, model.SettlementCancelled},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			n := tc.n
			assert.Equal(t, tc.want, w.classify(&n))
		})
	}
}

func TestWebhookIngestor_IdempotentSuccess(t *testing.T) {
	w, store := newTestIngestor(t)
	ctx := context.Background()
	require.NoError(t, store.Seed(ctx, pendingRecord("7001"), time.Hour))
	first := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return first }

	body := []byte(`{"code":"00","desc":"success","data":{"orderCode":7001,"amount":2500000}}`)
	res := w.Ingest(ctx, body)
	assert.Equal(t, WebhookResult{Received: true, OrderCode: "7001", Status: model.SettlementSuccess}, res)

	w.now = func() time.Time { return first.Add(time.Minute) }
	res = w.Ingest(ctx, body)
	assert.Equal(t, WebhookResult{Received: true, OrderCode: "7001", Status: model.SettlementSuccess}, res)

	rec, err := store.Get(ctx, "7001")
	require.NoError(t, err)
	assert.Equal(t, model.SettlementSuccess, rec.Status)
	require.NotNil(t, rec.CompletedAt)
	assert.True(t, first.Equal(*rec.CompletedAt), "replay must not move completedAt")
	assert.True(t, pendingRecord("7001").CreatedAt.Equal(rec.CreatedAt))
	assert.JSONEq(t, string(body), string(rec.GatewayPayload))
}

func TestWebhookIngestor_SuccessExtendsTTL(t *testing.T) {
	mr, store := newTestStore(t)
	w := NewWebhookIngestor(store, testPaymentConfig(""))
	ctx := context.Background()
	require.NoError(t, store.Seed(ctx, pendingRecord("7002"), 1800*time.Second))

	w.Ingest(ctx, []byte(`{"code":"00","data":{"orderCode":"7002"}}`))
	assert.Equal(t, 3600*time.Second, mr.TTL("test:payment:7002"))

	require.NoError(t, store.Seed(ctx, pendingRecord("7003"), 1800*time.Second))
	mr.FastForward(time.Minute)
	w.Ingest(ctx, []byte(`{"code":"99","data":{"orderCode":"7003"}}`))
	assert.Equal(t, 1800*time.Second, mr.TTL("test:payment:7003"))
}

func TestWebhookIngestor_TerminalIsSticky(t *testing.T) {
	w, store := newTestIngestor(t)
	ctx := context.Background()
	require.NoError(t, store.Seed(ctx, pendingRecord("7004"), time.Hour))

	res := w.Ingest(ctx, []byte(`{"code":"00","orderCode":"7004"}`))
	require.Equal(t, model.SettlementSuccess, res.Status)

	res = w.Ingest(ctx, []byte(`{"code":"24","orderCode":"7004"}`))
	assert.True(t, res.Received)
	assert.Equal(t, errConflict, res.Error)
	assert.Equal(t, model.SettlementSuccess, res.Status)

	rec, err := store.Get(ctx, "7004")
	require.NoError(t, err)
	assert.Equal(t, model.SettlementSuccess, rec.Status)
}

func TestWebhookIngestor_Anomalies(t *testing.T) {
	w, store := newTestIngestor(t)
	ctx := context.Background()
	require.NoError(t, store.Seed(ctx, pendingRecord("7005"), time.Hour))

	res := w.Ingest(ctx, []byte(`{"code":"00"}`))
	assert.Equal(t, WebhookResult{Received: true, Error: errNoOrderCode}, res)

	res = w.Ingest(ctx, []byte(`not json`))
	assert.Equal(t, WebhookResult{Received: true, Error: errMalformed}, res)

	res = w.Ingest(ctx, []byte(`{"code":"00","data":{"orderCode":"nope"}}`))
	assert.Equal(t, WebhookResult{Received: true, OrderCode: "nope", Error: errNotFound}, res)

	res = w.Ingest(ctx, []byte(`{"code":"00","data":{"orderCode":"7005","amount":1}}`))
	assert.Equal(t, errAmount, res.Error)
	assert.Equal(t, model.SettlementFailed, res.Status)
}

func TestWebhookIngestor_CancelledStatus(t *testing.T) {
	w, store := newTestIngestor(t)
	ctx := context.Background()
	require.NoError(t, store.Seed(ctx, pendingRecord("7006"), time.Hour))

	res := w.Ingest(ctx, []byte(`{"code":"00","data":{"orderCode":"7006","status":"CANCELLED"}}`))
	assert.Equal(t, model.SettlementCancelled, res.Status)
	assert.Empty(t, res.Error)
}

func TestWebhookIngestor_DeclinedTransactionIsNotSuccess(t *testing.T) {
	w, store := newTestIngestor(t)
	ctx := context.Background()
	require.NoError(t, store.Seed(ctx, pendingRecord("9001"), time.Hour))

	res := w.Ingest(ctx, []byte(`{"code":"00","data":{"orderCode":9001,"code":"07","desc":"payment declined"}}`))
	assert.Equal(t, model.SettlementFailed, res.Status)

	rec, err := store.Get(ctx, "9001")
	require.NoError(t, err)
	assert.Equal(t, model.SettlementFailed, rec.Status)
}

func TestWebhookIngestor_ReplayRefreshesPayload(t *testing.T) {
	w, store := newTestIngestor(t)
	ctx := context.Background()
	require.NoError(t, store.Seed(ctx, pendingRecord("7007"), time.Hour))
	first := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return first }

	res := w.Ingest(ctx, []byte(`{"code":"00","desc":"success","data":{"orderCode":"7007"}}`))
	require.Equal(t, model.SettlementSuccess, res.Status)

	w.now = func() time.Time { return first.Add(time.Hour) }
	replay := []byte(`{"code":"00","desc":"success","data":{"orderCode":"7007","reference":"FT123"}}`)
	res = w.Ingest(ctx, replay)
	assert.Equal(t, WebhookResult{Received: true, OrderCode: "7007", Status: model.SettlementSuccess}, res)

	rec, err := store.Get(ctx, "7007")
	require.NoError(t, err)
	assert.Equal(t, model.SettlementSuccess, rec.Status)
	require.NotNil(t, rec.CompletedAt)
	assert.True(t, first.Equal(*rec.CompletedAt))
	assert.JSONEq(t, string(replay), string(rec.GatewayPayload))
}
