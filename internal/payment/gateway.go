package payment

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/iliyamo/hotel-settlement/internal/apperr"
	"github.com/iliyamo/hotel-settlement/internal/config"
	"github.com/iliyamo/hotel-settlement/internal/model"
)

// gatewaySuccess is the result code the gateway uses for an accepted request.
const gatewaySuccess = "00"

// maxErrorBody caps how much of an error response is kept for the message.
const maxErrorBody = 512

// IntentRequest is one checkout attempt. Amount is in minor units.
type IntentRequest struct {
	OrderID     string
	Amount      int64
	Currency    string
	Description string
	Draft       *model.ReservationDraft
}

// Gateway is the outbound payment gateway client.
type Gateway struct {
	cfg    config.PaymentConfig
	client *http.Client
	signer Signer
	store  StatusStore
	now    func() time.Time
}

func NewGateway(cfg config.PaymentConfig, store StatusStore) *Gateway {
	return &Gateway{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		signer: NewSigner(cfg.ChecksumKey),
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// orderCode accepts both JSON numbers and strings; gateways disagree on
// which one an order code is.
type orderCode string

func (o *orderCode) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*o = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*o = orderCode(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("order code %s: %w", b, err)
	}
	*o = orderCode(n.String())
	return nil
}

type intentBody struct {
	OrderCode   any    `json:"orderCode"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
	CancelURL   string `json:"cancelUrl"`
	ReturnURL   string `json:"returnUrl"`
	Signature   string `json:"signature"`
}

type intentResponse struct {
	Code string `json:"code"`
	Desc string `json:"desc"`
	Data *struct {
		OrderCode   orderCode `json:"orderCode"`
		CheckoutURL string    `json:"checkoutUrl"`
	} `json:"data"`
}

// wireOrderCode sends numeric order codes as JSON numbers.
func wireOrderCode(code string) any {
	if _, err := strconv.ParseInt(code, 10, 64); err == nil {
		return json.Number(code)
	}
	return code
}

func (g *Gateway) redirectURL(kind, orderID string) string {
	return g.cfg.FrontendURL + "/payment/" + kind + "?orderCode=" + url.QueryEscape(orderID)
}

// CreateIntent signs and sends the intent, then seeds a pending status
// record under the order code the gateway answered with. Any failure is
// returned; no record exists unless this returns nil error.
func (g *Gateway) CreateIntent(ctx context.Context, req IntentRequest) (*model.PaymentIntent, error) {
	if strings.TrimSpace(req.OrderID) == "" {
		return nil, fmt.Errorf("%w: order id is required", apperr.ErrValidation)
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", apperr.ErrValidation)
	}

	intent := &model.PaymentIntent{
		OrderCode:       req.OrderID,
		OriginalOrderID: req.OrderID,
		Amount:          req.Amount,
		Currency:        strings.ToUpper(req.Currency),
		Description:     req.Description,
		CancelURL:       g.redirectURL("cancel", req.OrderID),
		ReturnURL:       g.redirectURL("return", req.OrderID),
	}
	intent.Signature = g.signer.SignIntent(intent.Amount, intent.CancelURL, intent.Description, req.OrderID, intent.ReturnURL)

	resp, err := g.send(ctx, intentBody{
		OrderCode:   wireOrderCode(req.OrderID),
		Amount:      intent.Amount,
		Description: intent.Description,
		CancelURL:   intent.CancelURL,
		ReturnURL:   intent.ReturnURL,
		Signature:   intent.Signature,
	})
	if err != nil {
		return nil, err
	}
	if resp.Data != nil {
		if resp.Data.OrderCode != "" {
			intent.OrderCode = string(resp.Data.OrderCode)
		}
		intent.CheckoutURL = resp.Data.CheckoutURL
	}
	if intent.OrderCode != intent.OriginalOrderID {
		log.Printf("payment: gateway re-keyed order %s as %s", intent.OriginalOrderID, intent.OrderCode)
	}

	rec := &model.PaymentStatusRecord{
		OrderCode:       intent.OrderCode,
		Status:          model.SettlementPending,
		OriginalOrderID: intent.OriginalOrderID,
		Amount:          intent.Amount,
		Currency:        intent.Currency,
		Description:     intent.Description,
		CreatedAt:       g.now(),
		Draft:           req.Draft,
	}
	if err := g.store.Seed(ctx, rec, g.cfg.PendingTTL); err != nil {
		return nil, fmt.Errorf("seed pending status: %w", err)
	}
	return intent, nil
}

func (g *Gateway) send(ctx context.Context, body intentBody) (*intentResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.GatewayURL+"/v2/payment-requests", bytes.NewReader(payload))
	if err != nil {
		return nil, &apperr.GatewayError{Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-client-id", g.cfg.ClientID)
	httpReq.Header.Set("x-api-key", g.cfg.APIKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, &apperr.GatewayError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &apperr.GatewayError{StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		desc := string(raw)
		if len(desc) > maxErrorBody {
			desc = desc[:maxErrorBody]
		}
		return nil, &apperr.GatewayError{StatusCode: resp.StatusCode, Desc: strings.TrimSpace(desc)}
	}

	var out intentResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &apperr.GatewayError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if out.Code != gatewaySuccess {
		return nil, &apperr.GatewayError{StatusCode: resp.StatusCode, Code: out.Code, Desc: out.Desc}
	}
	return &out, nil
}

// NewOrderCode returns a numeric order code: unix milliseconds followed by
// three random digits. It fits an int64 and sorts by creation time.
func NewOrderCode(now time.Time) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d%03d", now.UnixMilli(), n.Int64()), nil
}
