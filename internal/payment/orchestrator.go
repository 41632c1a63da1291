package payment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/iliyamo/hotel-settlement/internal/apperr"
	"github.com/iliyamo/hotel-settlement/internal/config"
	"github.com/iliyamo/hotel-settlement/internal/ledger"
	"github.com/iliyamo/hotel-settlement/internal/model"
	"github.com/iliyamo/hotel-settlement/internal/repository"
	"github.com/iliyamo/hotel-settlement/internal/service"
)

// Client-side polling contract.
const (
	PollInterval = 2 * time.Second
	PollTimeout  = 60 * time.Second
)

// Poll statuses beyond the settlement statuses.
const (
	PollNotFound   = "not_found"
	PollUnresolved = "unresolved"
	PollProcessing = "processing"
)

const (
	unresolvedMessage = "payment could not be confirmed in time; please contact support with your order code"
	noDraftMessage    = "payment received but no reservation was staged; please contact support"
)

// claimTTL bounds how long a crashed winner blocks other pollers.
const claimTTL = 30 * time.Second

// claimPollEvery is how often a losing poller re-reads the outcome.
const claimPollEvery = 50 * time.Millisecond

// ReservationCreator is the part of the state machine settlement needs.
type ReservationCreator interface {
	CreatePaid(ctx context.Context, d model.ReservationDraft, pay service.PaymentRef) (*model.Reservation, error)
	Get(ctx context.Context, id uint64) (*model.Reservation, error)
	GetByOrderCode(ctx context.Context, orderCode string) (*model.Reservation, error)
}

// PollResult is the answer to one client poll.
type PollResult struct {
	Found            bool   `json:"found"`
	Status           string `json:"status"`
	OrderCode        string `json:"order_code"`
	ReservationID    uint64 `json:"reservation_id,omitempty"`
	ConfirmationCode string `json:"confirmation_code,omitempty"`
	Message          string `json:"message,omitempty"`
	RetryAfterMs     int64  `json:"retry_after_ms,omitempty"`
}

// Orchestrator reconciles the status store with reservation creation.
type Orchestrator struct {
	store        StatusStore
	reservations ReservationCreator
	currencies   ledger.Currencies
	cfg          config.SettlementConfig
	outcomeTTL   time.Duration
	pollStampTTL time.Duration
	now          func() time.Time
}

func NewOrchestrator(store StatusStore, reservations ReservationCreator, currencies ledger.Currencies, cfg config.SettlementConfig, pay config.PaymentConfig) *Orchestrator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = PollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = PollTimeout
	}
	return &Orchestrator{
		store:        store,
		reservations: reservations,
		currencies:   currencies,
		cfg:          cfg,
		outcomeTTL:   pay.SuccessTTL,
		pollStampTTL: pay.PendingTTL,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Poll reports the settlement state of orderCode. On the first successful
// poll it creates the reservation; concurrent pollers get the same one.
func (o *Orchestrator) Poll(ctx context.Context, orderCode string) (*PollResult, error) {
	rec, err := o.store.Get(ctx, orderCode)
	if errors.Is(err, apperr.ErrNotFound) {
		return &PollResult{Status: PollNotFound, OrderCode: orderCode}, nil
	}
	if err != nil {
		return nil, err
	}
	res := &PollResult{Found: true, Status: string(rec.Status), OrderCode: orderCode}

	switch rec.Status {
	case model.SettlementPending:
		return o.pending(ctx, res)
	case model.SettlementSuccess:
		return o.settle(ctx, rec, res)
	}
	return res, nil
}

func (o *Orchestrator) pending(ctx context.Context, res *PollResult) (*PollResult, error) {
	now := o.now()
	started, err := o.store.StampPollStart(ctx, res.OrderCode, now, o.pollStampTTL)
	if err != nil {
		return nil, err
	}
	if now.Sub(started) >= o.cfg.Timeout {
		res.Status = PollUnresolved
		res.Message = unresolvedMessage
		return res, nil
	}
	res.RetryAfterMs = o.cfg.PollInterval.Milliseconds()
	return res, nil
}

func (o *Orchestrator) settle(ctx context.Context, rec *model.PaymentStatusRecord, res *PollResult) (*PollResult, error) {
	out, err := o.store.Outcome(ctx, rec.OrderCode)
	if err != nil {
		return nil, err
	}
	if out.State == OutcomeDone {
		return o.withReservation(ctx, res, out.ReservationID)
	}
	if rec.Draft == nil {
		log.Printf("settlement: order %s succeeded without a staged reservation", rec.OrderCode)
		res.Message = noDraftMessage
		return res, nil
	}
	if out.State == OutcomeNone {
		token, won, err := o.store.ClaimOutcome(ctx, rec.OrderCode, claimTTL)
		if err != nil {
			return nil, err
		}
		if won {
			return o.create(ctx, rec, res, token)
		}
	}
	return o.await(ctx, res)
}

// create runs on the single poller holding the claim.
func (o *Orchestrator) create(ctx context.Context, rec *model.PaymentStatusRecord, res *PollResult, token string) (*PollResult, error) {
	pay := service.PaymentRef{
		OrderCode: rec.OrderCode,
		Amount:    o.currencies.FromMinor(rec.Amount, rec.Currency),
	}
	created, err := o.reservations.CreatePaid(ctx, *rec.Draft, pay)
	if errors.Is(err, repository.ErrDuplicateOrder) {
		// An earlier winner got as far as the insert; reuse its row.
		created, err = o.reservations.GetByOrderCode(ctx, rec.OrderCode)
	}
	if err != nil {
		if rerr := o.store.ReleaseOutcome(context.WithoutCancel(ctx), rec.OrderCode, token); rerr != nil {
			log.Printf("settlement: release claim on %s failed: %v", rec.OrderCode, rerr)
		}
		return nil, fmt.Errorf("create reservation for order %s: %w", rec.OrderCode, err)
	}
	if err := o.store.CompleteOutcome(context.WithoutCancel(ctx), rec.OrderCode, token, created.ID, o.outcomeTTL); err != nil {
		// The reservation exists and is keyed by order code, so a later
		// poll resolves it through ErrDuplicateOrder.
		log.Printf("settlement: complete outcome on %s failed: %v", rec.OrderCode, err)
	}
	log.Printf("settlement: order %s created reservation %d", rec.OrderCode, created.ID)
	res.ReservationID = created.ID
	res.ConfirmationCode = created.ConfirmationCode
	return res, nil
}

// await waits for the claim holder to publish the reservation id.
func (o *Orchestrator) await(ctx context.Context, res *PollResult) (*PollResult, error) {
	deadline := time.NewTimer(o.cfg.ClaimWait)
	defer deadline.Stop()
	tick := time.NewTicker(claimPollEvery)
	defer tick.Stop()
	for {
		out, err := o.store.Outcome(ctx, res.OrderCode)
		if err != nil {
			return nil, err
		}
		switch out.State {
		case OutcomeDone:
			return o.withReservation(ctx, res, out.ReservationID)
		case OutcomeNone:
			// The holder released its claim; the next poll retries creation.
			res.Status = PollProcessing
			res.RetryAfterMs = o.cfg.PollInterval.Milliseconds()
			return res, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			res.Status = PollProcessing
			res.RetryAfterMs = o.cfg.PollInterval.Milliseconds()
			return res, nil
		case <-tick.C:
		}
	}
}

func (o *Orchestrator) withReservation(ctx context.Context, res *PollResult, id uint64) (*PollResult, error) {
	r, err := o.reservations.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load settled reservation %d: %w", id, err)
	}
	res.ReservationID = r.ID
	res.ConfirmationCode = r.ConfirmationCode
	return res, nil
}
