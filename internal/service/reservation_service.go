package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/hotel-settlement/internal/apperr"
	"github.com/iliyamo/hotel-settlement/internal/ledger"
	"github.com/iliyamo/hotel-settlement/internal/model"
	"github.com/iliyamo/hotel-settlement/internal/repository"
	"github.com/iliyamo/hotel-settlement/internal/utils"
)

// codeAttempts bounds confirmation code regeneration on collisions.
const codeAttempts = 5

// transitions lists every legal status edge. Anything absent is rejected.
var transitions = map[model.ReservationStatus][]model.ReservationStatus{
	model.StatusPending:   {model.StatusConfirmed, model.StatusCancelled},
	model.StatusConfirmed: {model.StatusCheckedIn, model.StatusCancelled, model.StatusNoShow},
	model.StatusCheckedIn: {model.StatusCheckedOut},
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to model.ReservationStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// defaultPublishTimeout caps how long a committed transition waits on one
// event publish.
const defaultPublishTimeout = 2 * time.Second

// EventPublisher receives lifecycle events after a transition commits.
type EventPublisher interface {
	Publish(ctx context.Context, ev model.ReservationEvent) error
}

// PaymentRef identifies the settled payment a reservation is created from.
type PaymentRef struct {
	OrderCode string
	Amount    float64
}

// Balance is the ledger view of a reservation.
type Balance struct {
	ReservationID uint64              `json:"reservation_id"`
	TotalAmount   float64             `json:"total_amount"`
	AmountPaid    float64             `json:"amount_paid"`
	Outstanding   float64             `json:"outstanding_balance"`
	PaymentStatus model.PaymentStatus `json:"payment_status"`
	Currency      string              `json:"currency"`
}

// ReservationService is the reservation state machine. It is the only
// writer of reservations: every change runs in a store transaction that
// loads the row for update and writes it back under a version check.
type ReservationService struct {
	store      repository.Store
	rooms      *RoomResolver
	currencies ledger.Currencies
	tax        ledger.TaxCalculator
	events     EventPublisher
	publishFor time.Duration // per-event publish budget
	now        func() time.Time
	newCode    func() (string, error)
}

// NewReservationService wires the state machine. events may be nil.
func NewReservationService(store repository.Store, currencies ledger.Currencies, tax ledger.TaxCalculator, events EventPublisher) *ReservationService {
	return &ReservationService{
		store:      store,
		rooms:      NewRoomResolver(store),
		currencies: currencies,
		tax:        tax,
		events:     events,
		publishFor: defaultPublishTimeout,
		now:        func() time.Time { return time.Now().UTC() },
		newCode:    utils.ConfirmationCode,
	}
}

// Rooms returns the resolver used for assignments.
func (s *ReservationService) Rooms() *RoomResolver { return s.rooms }

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", apperr.ErrValidation, fmt.Sprintf(format, args...))
}

func (s *ReservationService) validateDraft(d model.ReservationDraft) error {
	switch {
	case d.PropertyID == 0:
		return validationf("property_id is required")
	case d.GuestID == 0:
		return validationf("guest_id is required")
	case d.RoomTypeID == 0:
		return validationf("room_type_id is required")
	case d.RatePlanID == 0:
		return validationf("rate_plan_id is required")
	case d.CheckIn.IsZero() || d.CheckOut.IsZero():
		return validationf("check_in and check_out are required")
	case !d.CheckIn.Before(d.CheckOut.Time):
		return validationf("check_in must be before check_out")
	case d.Adults < 1:
		return validationf("adults must be at least 1")
	case d.Children < 0:
		return validationf("children must not be negative")
	case d.DiscountAmount < 0:
		return validationf("discount_amount must not be negative")
	}
	return nil
}

// Quote prices a draft without storing it. The returned reservation has
// no id and no confirmation code.
func (s *ReservationService) Quote(ctx context.Context, d model.ReservationDraft) (*model.Reservation, error) {
	if err := s.validateDraft(d); err != nil {
		return nil, err
	}
	rp, err := s.store.RatePlan(ctx, d.RatePlanID)
	if err != nil {
		return nil, err
	}
	if rp.RoomTypeID != d.RoomTypeID {
		return nil, validationf("rate plan %d does not price room type %d", rp.ID, d.RoomTypeID)
	}
	currency := strings.ToUpper(d.Currency)
	if currency == "" {
		currency = strings.ToUpper(rp.Currency)
	}
	if currency != strings.ToUpper(rp.Currency) {
		return nil, validationf("currency %s does not match rate plan currency %s", currency, rp.Currency)
	}
	if rp.NightlyRate < 0 {
		return nil, validationf("rate plan %d has a negative rate", rp.ID)
	}

	checkIn, checkOut := model.NewDate(d.CheckIn.Time), model.NewDate(d.CheckOut.Time)
	nights := ledger.Nights(model.DateRange{Start: checkIn.Time, End: checkOut.Time})
	base := s.currencies.Round(rp.NightlyRate*float64(nights), currency)
	tb, err := s.tax.Tax(ctx, base, d.PropertyID)
	if err != nil {
		return nil, fmt.Errorf("tax lookup: %w", err)
	}
	tax := s.currencies.Round(tb.Amount, currency)
	discount := s.currencies.Round(d.DiscountAmount, currency)
	if discount > base+tax {
		return nil, validationf("discount_amount exceeds the room charge")
	}

	return &model.Reservation{
		PropertyID:     d.PropertyID,
		GuestID:        d.GuestID,
		RoomTypeID:     d.RoomTypeID,
		RatePlanID:     d.RatePlanID,
		CheckIn:        checkIn,
		CheckOut:       checkOut,
		Adults:         d.Adults,
		Children:       d.Children,
		Status:         model.StatusPending,
		PaymentStatus:  model.PaymentUnpaid,
		BaseAmount:     base,
		TaxAmount:      tax,
		DiscountAmount: discount,
		TotalAmount:    s.currencies.Recompute(base, tax, discount, 0, currency),
		Currency:       currency,
	}, nil
}

// Create prices and stores a new pending reservation.
func (s *ReservationService) Create(ctx context.Context, d model.ReservationDraft) (*model.Reservation, error) {
	res, err := s.Quote(ctx, d)
	if err != nil {
		return nil, err
	}
	if err := s.insert(ctx, res); err != nil {
		return nil, err
	}
	s.publish(ctx, model.EventCreated, res)
	return res, nil
}

// CreatePaid creates a reservation for a settled payment: it is stored
// confirmed with the payment recorded, in one transaction. A second call
// for the same order code fails with repository.ErrDuplicateOrder.
func (s *ReservationService) CreatePaid(ctx context.Context, d model.ReservationDraft, pay PaymentRef) (*model.Reservation, error) {
	if pay.OrderCode == "" {
		return nil, validationf("order code is required")
	}
	if pay.Amount < 0 {
		return nil, validationf("payment amount must not be negative")
	}
	res, err := s.Quote(ctx, d)
	if err != nil {
		return nil, err
	}
	res.Status = model.StatusConfirmed
	res.AmountPaid = s.currencies.Round(pay.Amount, res.Currency)
	res.PaymentStatus = ledger.PaymentStatusFor(res.TotalAmount, res.AmountPaid)
	oc := pay.OrderCode
	res.OrderCode = &oc
	if err := s.insert(ctx, res); err != nil {
		return nil, err
	}
	s.publish(ctx, model.EventCreated, res)
	s.publish(ctx, model.EventConfirmed, res)
	s.publish(ctx, model.EventPaymentRecorded, res)
	return res, nil
}

func (s *ReservationService) insert(ctx context.Context, res *model.Reservation) error {
	for attempt := 1; ; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return fmt.Errorf("generate confirmation code: %w", err)
		}
		res.ConfirmationCode = code
		err = s.store.InTx(ctx, func(tx repository.Tx) error {
			return tx.Insert(ctx, res)
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrDuplicateCode) || attempt == codeAttempts {
			return err
		}
		log.Printf("reservation: confirmation code collision (attempt %d), regenerating", attempt)
	}
}

// Get loads a reservation by id.
func (s *ReservationService) Get(ctx context.Context, id uint64) (*model.Reservation, error) {
	return s.store.GetByID(ctx, id)
}

// GetByConfirmationCode loads a reservation by its guest-facing code.
func (s *ReservationService) GetByConfirmationCode(ctx context.Context, code string) (*model.Reservation, error) {
	return s.store.GetByConfirmationCode(ctx, utils.NormalizeCode(code))
}

// GetByOrderCode loads the reservation created for a settled payment.
func (s *ReservationService) GetByOrderCode(ctx context.Context, orderCode string) (*model.Reservation, error) {
	return s.store.GetByOrderCode(ctx, orderCode)
}

// Balance reports the outstanding amount. Overpayment shows as negative.
func (s *ReservationService) Balance(ctx context.Context, id uint64) (*Balance, error) {
	res, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Balance{
		ReservationID: res.ID,
		TotalAmount:   res.TotalAmount,
		AmountPaid:    res.AmountPaid,
		Outstanding:   s.currencies.Round(ledger.OutstandingBalance(res.TotalAmount, res.AmountPaid), res.Currency),
		PaymentStatus: res.PaymentStatus,
		Currency:      res.Currency,
	}, nil
}

// mutate loads id for update, applies fn and writes the result back.
// The returned event types are published after commit.
func (s *ReservationService) mutate(ctx context.Context, id uint64, fn func(tx repository.Tx, res *model.Reservation) ([]model.ReservationEventType, error)) (*model.Reservation, error) {
	var (
		out    *model.Reservation
		events []model.ReservationEventType
	)
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		// Lock the row first; concurrent transitions on the same id wait here.
		res, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		// fn checks the edge and edits res in place; an error rolls back.
		evs, err := fn(tx, res)
		if err != nil {
			return err
		}
		// The write only lands on the version we read.
		if err := tx.Update(ctx, res); err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				return fmt.Errorf("%w: %v", apperr.ErrConcurrentUpdate, err)
			}
			return err
		}
		out, events = res, evs
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Committed. Events go out now and never undo the transition.
	for _, ev := range events {
		s.publish(ctx, ev, out)
	}
	return out, nil
}

func transition(res *model.Reservation, to model.ReservationStatus) error {
	if !CanTransition(res.Status, to) {
		return fmt.Errorf("%w: %s -> %s", apperr.ErrInvalidTransition, res.Status, to)
	}
	res.Status = to
	return nil
}

func (s *ReservationService) retotal(res *model.Reservation) {
	res.TotalAmount = s.currencies.Recompute(res.BaseAmount, res.TaxAmount, res.DiscountAmount, res.ServiceAmount, res.Currency)
}

// Confirm moves a pending reservation to confirmed.
func (s *ReservationService) Confirm(ctx context.Context, id uint64) (*model.Reservation, error) {
	return s.mutate(ctx, id, func(_ repository.Tx, res *model.Reservation) ([]model.ReservationEventType, error) {
		if err := transition(res, model.StatusConfirmed); err != nil {
			return nil, err
		}
		return []model.ReservationEventType{model.EventConfirmed}, nil
	})
}

// AssignRoom attaches a room to a confirmed reservation. The status stays
// confirmed. The room is locked while overlapping stays are checked.
func (s *ReservationService) AssignRoom(ctx context.Context, id, roomID uint64) (*model.Reservation, error) {
	if roomID == 0 {
		return nil, validationf("room_id is required")
	}
	return s.mutate(ctx, id, func(tx repository.Tx, res *model.Reservation) ([]model.ReservationEventType, error) {
		if res.Status != model.StatusConfirmed {
			return nil, fmt.Errorf("%w: cannot assign a room while %s", apperr.ErrInvalidTransition, res.Status)
		}
		if res.AssignedRoomID != nil {
			return nil, fmt.Errorf("%w: room %d already assigned", apperr.ErrPreconditionFailed, *res.AssignedRoomID)
		}
		if err := s.rooms.Reserve(ctx, tx, res, roomID); err != nil {
			return nil, err
		}
		return []model.ReservationEventType{model.EventRoomAssigned}, nil
	})
}

// CheckIn requires a confirmed reservation with an assigned room.
func (s *ReservationService) CheckIn(ctx context.Context, id uint64) (*model.Reservation, error) {
	return s.mutate(ctx, id, func(_ repository.Tx, res *model.Reservation) ([]model.ReservationEventType, error) {
		if !CanTransition(res.Status, model.StatusCheckedIn) {
			return nil, fmt.Errorf("%w: %s -> %s", apperr.ErrInvalidTransition, res.Status, model.StatusCheckedIn)
		}
		if res.AssignedRoomID == nil {
			return nil, fmt.Errorf("%w: no room assigned", apperr.ErrPreconditionFailed)
		}
		now := s.now()
		res.CheckInTime = &now
		res.Status = model.StatusCheckedIn
		return []model.ReservationEventType{model.EventCheckedIn}, nil
	})
}

// CheckOut closes a stay, adding extraCharges to the service amount.
func (s *ReservationService) CheckOut(ctx context.Context, id uint64, extraCharges float64) (*model.Reservation, error) {
	if extraCharges < 0 {
		return nil, validationf("extra_charges must not be negative")
	}
	return s.mutate(ctx, id, func(_ repository.Tx, res *model.Reservation) ([]model.ReservationEventType, error) {
		if err := transition(res, model.StatusCheckedOut); err != nil {
			return nil, err
		}
		res.ServiceAmount = s.currencies.Round(res.ServiceAmount+extraCharges, res.Currency)
		s.retotal(res)
		res.PaymentStatus = derivePaymentStatus(res)
		now := s.now()
		res.CheckOutTime = &now
		return []model.ReservationEventType{model.EventCheckedOut}, nil
	})
}

// Cancel is allowed from pending and confirmed.
func (s *ReservationService) Cancel(ctx context.Context, id uint64) (*model.Reservation, error) {
	return s.mutate(ctx, id, func(_ repository.Tx, res *model.Reservation) ([]model.ReservationEventType, error) {
		if err := transition(res, model.StatusCancelled); err != nil {
			return nil, err
		}
		return []model.ReservationEventType{model.EventCancelled}, nil
	})
}

// MarkNoShow is allowed from confirmed only.
func (s *ReservationService) MarkNoShow(ctx context.Context, id uint64) (*model.Reservation, error) {
	return s.mutate(ctx, id, func(_ repository.Tx, res *model.Reservation) ([]model.ReservationEventType, error) {
		if err := transition(res, model.StatusNoShow); err != nil {
			return nil, err
		}
		return []model.ReservationEventType{model.EventNoShow}, nil
	})
}

func validateService(amount, tax float64) error {
	if amount <= 0 {
		return validationf("amount must be positive")
	}
	if tax < 0 {
		return validationf("tax must not be negative")
	}
	return nil
}

// AddService increases the service and total amounts by amount*(1+tax).
func (s *ReservationService) AddService(ctx context.Context, id uint64, amount, tax float64) (*model.Reservation, error) {
	if err := validateService(amount, tax); err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, func(_ repository.Tx, res *model.Reservation) ([]model.ReservationEventType, error) {
		if res.Status.Terminal() {
			return nil, fmt.Errorf("%w: cannot add services while %s", apperr.ErrInvalidTransition, res.Status)
		}
		res.ServiceAmount = s.currencies.Round(res.ServiceAmount+s.currencies.ServiceCharge(amount, tax, res.Currency), res.Currency)
		s.retotal(res)
		res.PaymentStatus = derivePaymentStatus(res)
		return []model.ReservationEventType{model.EventServiceChanged}, nil
	})
}

// RemoveService reverses a service line. The service amount is clamped at
// zero; a clamp sets ServiceUnderflow and emits an audit event.
func (s *ReservationService) RemoveService(ctx context.Context, id uint64, amount, tax float64) (*model.Reservation, error) {
	if err := validateService(amount, tax); err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, func(_ repository.Tx, res *model.Reservation) ([]model.ReservationEventType, error) {
		if res.Status.Terminal() {
			return nil, fmt.Errorf("%w: cannot remove services while %s", apperr.ErrInvalidTransition, res.Status)
		}
		events := []model.ReservationEventType{model.EventServiceChanged}
		charge := s.currencies.ServiceCharge(amount, tax, res.Currency)
		service, underflow := s.currencies.Subtract(res.ServiceAmount, charge, res.Currency)
		if underflow {
			log.Printf("reservation: service underflow on %d: removing %.2f from %.2f", res.ID, charge, res.ServiceAmount)
			res.ServiceUnderflow = true
			events = append(events, model.EventServiceUnderflow)
		}
		res.ServiceAmount = service
		s.retotal(res)
		res.PaymentStatus = derivePaymentStatus(res)
		return events, nil
	})
}

// RecordPayment adds amount to AmountPaid. Overpayment is accepted and
// shows up as a negative outstanding balance.
func (s *ReservationService) RecordPayment(ctx context.Context, id uint64, amount float64) (*model.Reservation, error) {
	if amount <= 0 {
		return nil, validationf("amount must be positive")
	}
	return s.mutate(ctx, id, func(_ repository.Tx, res *model.Reservation) ([]model.ReservationEventType, error) {
		if res.Status == model.StatusCancelled {
			return nil, fmt.Errorf("%w: cannot record a payment on a cancelled reservation", apperr.ErrInvalidTransition)
		}
		if res.PaymentStatus == model.PaymentRefunded {
			return nil, fmt.Errorf("%w: reservation was refunded", apperr.ErrPreconditionFailed)
		}
		res.AmountPaid = s.currencies.Round(res.AmountPaid+amount, res.Currency)
		res.PaymentStatus = derivePaymentStatus(res)
		return []model.ReservationEventType{model.EventPaymentRecorded}, nil
	})
}

// Refund marks the payment of a cancelled or no-show reservation refunded.
func (s *ReservationService) Refund(ctx context.Context, id uint64) (*model.Reservation, error) {
	return s.mutate(ctx, id, func(_ repository.Tx, res *model.Reservation) ([]model.ReservationEventType, error) {
		if res.Status != model.StatusCancelled && res.Status != model.StatusNoShow {
			return nil, fmt.Errorf("%w: cannot refund while %s", apperr.ErrInvalidTransition, res.Status)
		}
		if res.AmountPaid <= 0 || res.PaymentStatus == model.PaymentRefunded {
			return nil, fmt.Errorf("%w: nothing to refund", apperr.ErrPreconditionFailed)
		}
		res.PaymentStatus = model.PaymentRefunded
		return []model.ReservationEventType{model.EventRefunded}, nil
	})
}

func derivePaymentStatus(res *model.Reservation) model.PaymentStatus {
	if res.PaymentStatus == model.PaymentRefunded {
		return res.PaymentStatus
	}
	return ledger.PaymentStatusFor(res.TotalAmount, res.AmountPaid)
}

func (s *ReservationService) publish(ctx context.Context, typ model.ReservationEventType, res *model.Reservation) {
	if s.events == nil {
		return
	}
	ev := model.ReservationEvent{
		EventID:          uuid.NewString(),
		Type:             typ,
		ReservationID:    res.ID,
		ConfirmationCode: res.ConfirmationCode,
		Status:           res.Status,
		PaymentStatus:    res.PaymentStatus,
		RoomID:           res.AssignedRoomID,
		TotalAmount:      res.TotalAmount,
		AmountPaid:       res.AmountPaid,
		Currency:         res.Currency,
		OccurredAt:       s.now(),
	}
	// The transition is committed; a cancelled request must not drop the
	// event, and a stuck broker must not hold the caller.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishFor)
	defer cancel()
	if err := s.events.Publish(pctx, ev); err != nil {
		log.Printf("reservation: publish %s for %d failed: %v", typ, res.ID, err)
	}
}
