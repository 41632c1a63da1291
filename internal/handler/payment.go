package handler

import (
	"context"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/hotel-settlement/internal/ledger"
	"github.com/iliyamo/hotel-settlement/internal/model"
	"github.com/iliyamo/hotel-settlement/internal/payment"
)

// defaultDescription is used when the client does not describe the payment.
const defaultDescription = "Hotel reservation"

// Quoter prices a draft without persisting it.
type Quoter interface {
	Quote(ctx context.Context, d model.ReservationDraft) (*model.Reservation, error)
}

// IntentCreator sends a checkout attempt to the gateway.
type IntentCreator interface {
	CreateIntent(ctx context.Context, req payment.IntentRequest) (*model.PaymentIntent, error)
}

// WebhookIngestor applies one gateway notification.
type WebhookIngestor interface {
	Ingest(ctx context.Context, raw []byte) payment.WebhookResult
}

// StatusPoller answers client polls and settles successful payments.
type StatusPoller interface {
	Poll(ctx context.Context, orderCode string) (*payment.PollResult, error)
}

// PaymentHandler serves checkout creation, the gateway webhook and the
// client poll endpoint.
type PaymentHandler struct {
	quoter     Quoter
	intents    IntentCreator
	webhooks   WebhookIngestor
	poller     StatusPoller
	currencies ledger.Currencies
	now        func() time.Time
}

func NewPaymentHandler(quoter Quoter, intents IntentCreator, webhooks WebhookIngestor, poller StatusPoller, currencies ledger.Currencies) *PaymentHandler {
	if quoter == nil || intents == nil || webhooks == nil || poller == nil {
		panic("nil dependency passed to NewPaymentHandler")
	}
	return &PaymentHandler{
		quoter:     quoter,
		intents:    intents,
		webhooks:   webhooks,
		poller:     poller,
		currencies: currencies,
		now:        time.Now,
	}
}

type createPaymentRequest struct {
	OrderID     string                  `json:"order_id"`
	Description string                  `json:"description"`
	Reservation *model.ReservationDraft `json:"reservation"`
}

type createPaymentResponse struct {
	OrderCode   string  `json:"order_code"`
	CheckoutURL string  `json:"checkout_url"`
	Amount      float64 `json:"amount"`
	AmountMinor int64   `json:"amount_minor"`
	Currency    string  `json:"currency"`
	RetryAfter  int64   `json:"retry_after_ms"`
	Timeout     int64   `json:"timeout_ms"`
}

// CreatePayment handles POST /v1/payments. The draft is quoted and the
// quoted total becomes the intent amount; the draft itself is staged
// with the pending status record and only turns into a reservation once
// the gateway reports success.
func (h *PaymentHandler) CreatePayment(c echo.Context) error {
	var req createPaymentRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if req.Reservation == nil {
		return badRequest(c, "reservation is required")
	}
	ctx := c.Request().Context()

	quote, err := h.quoter.Quote(ctx, *req.Reservation)
	if err != nil {
		return err
	}
	draft := *req.Reservation
	draft.Currency = quote.Currency

	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		if orderID, err = payment.NewOrderCode(h.now()); err != nil {
			return err
		}
	}
	desc := strings.TrimSpace(req.Description)
	if desc == "" {
		desc = defaultDescription
	}

	intent, err := h.intents.CreateIntent(ctx, payment.IntentRequest{
		OrderID:     orderID,
		Amount:      h.currencies.ToMinor(quote.TotalAmount, quote.Currency),
		Currency:    quote.Currency,
		Description: desc,
		Draft:       &draft,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, createPaymentResponse{
		OrderCode:   intent.OrderCode,
		CheckoutURL: intent.CheckoutURL,
		Amount:      h.currencies.FromMinor(intent.Amount, intent.Currency),
		AmountMinor: intent.Amount,
		Currency:    intent.Currency,
		RetryAfter:  payment.PollInterval.Milliseconds(),
		Timeout:     payment.PollTimeout.Milliseconds(),
	})
}

// Webhook handles POST /v1/payments/webhook. Authentication happens in
// middleware.WebhookAuth; past that point the gateway always gets a 200
// so it stops retrying, and anomalies are reported in the body.
func (h *PaymentHandler) Webhook(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		log.Printf("webhook: read body: %v", err)
		return c.JSON(http.StatusOK, payment.WebhookResult{Received: true, Error: "unreadable body"})
	}
	res := h.webhooks.Ingest(c.Request().Context(), body)
	if res.Error != "" {
		log.Printf("webhook: order=%q status=%q: %s", res.OrderCode, res.Status, res.Error)
	}
	return c.JSON(http.StatusOK, res)
}

// PaymentStatus handles GET /payment-status/:orderCode.
func (h *PaymentHandler) PaymentStatus(c echo.Context) error {
	code := strings.TrimSpace(c.Param("orderCode"))
	if code == "" {
		return badRequest(c, "missing order code")
	}
	res, err := h.poller.Poll(c.Request().Context(), code)
	if err != nil {
		return err
	}
	if !res.Found {
		return c.JSON(http.StatusNotFound, res)
	}
	return c.JSON(http.StatusOK, res)
}
