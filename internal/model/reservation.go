package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	StatusPending    ReservationStatus = "pending"
	StatusConfirmed  ReservationStatus = "confirmed"
	StatusCheckedIn  ReservationStatus = "checked_in"
	StatusCheckedOut ReservationStatus = "checked_out"
	StatusCancelled  ReservationStatus = "cancelled"
	StatusNoShow     ReservationStatus = "no_show"
)

// Terminal reports whether no further transition leaves this status.
func (s ReservationStatus) Terminal() bool {
	switch s {
	case StatusCheckedOut, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// Occupying reports whether a reservation in this status holds its room.
func (s ReservationStatus) Occupying() bool {
	return s == StatusConfirmed || s == StatusCheckedIn
}

// PaymentStatus tracks how much of the total has been settled.
type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentPartial  PaymentStatus = "partial"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

// Reservation is a guest's booking of a room type for a date range.
// It is mutated only through service.ReservationService so that the
// amounts and the status never drift apart.
//
// Fields:
//
//	BaseAmount       – nightly rate × nights at creation time.
//	TotalAmount      – base + tax − discount + service, rounded by the ledger.
//	ServiceUnderflow – set when a service removal was clamped at zero.
//	OrderCode        – gateway order code that settled this reservation, if any.
//	Version          – optimistic concurrency counter, bumped on every write.
type Reservation struct {
	ID               uint64            `json:"id"`
	PropertyID       uint64            `json:"property_id"`
	GuestID          uint64            `json:"guest_id"`
	RoomTypeID       uint64            `json:"room_type_id"`
	RatePlanID       uint64            `json:"rate_plan_id"`
	AssignedRoomID   *uint64           `json:"assigned_room_id,omitempty"`
	CheckIn          Date              `json:"check_in"`
	CheckOut         Date              `json:"check_out"`
	Adults           int               `json:"adults"`
	Children         int               `json:"children"`
	Status           ReservationStatus `json:"status"`
	PaymentStatus    PaymentStatus     `json:"payment_status"`
	BaseAmount       float64           `json:"base_amount"`
	TotalAmount      float64           `json:"total_amount"`
	TaxAmount        float64           `json:"tax_amount"`
	DiscountAmount   float64           `json:"discount_amount"`
	ServiceAmount    float64           `json:"service_amount"`
	AmountPaid       float64           `json:"amount_paid"`
	Currency         string            `json:"currency"`
	ConfirmationCode string            `json:"confirmation_code"`
	ServiceUnderflow bool              `json:"service_underflow"`
	OrderCode        *string           `json:"order_code,omitempty"`
	CheckInTime      *time.Time        `json:"check_in_time,omitempty"`
	CheckOutTime     *time.Time        `json:"check_out_time,omitempty"`
	Version          int64             `json:"version"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Stay returns the half-open date range [CheckIn, CheckOut).
func (r *Reservation) Stay() DateRange {
	return DateRange{Start: r.CheckIn.Time, End: r.CheckOut.Time}
}

// Clone returns a deep copy so callers can mutate without touching the original.
func (r *Reservation) Clone() *Reservation {
	cp := *r
	if r.AssignedRoomID != nil {
		v := *r.AssignedRoomID
		cp.AssignedRoomID = &v
	}
	if r.OrderCode != nil {
		v := *r.OrderCode
		cp.OrderCode = &v
	}
	if r.CheckInTime != nil {
		v := *r.CheckInTime
		cp.CheckInTime = &v
	}
	if r.CheckOutTime != nil {
		v := *r.CheckOutTime
		cp.CheckOutTime = &v
	}
	return &cp
}

// ReservationDraft is the input of a reservation creation. It is also
// the payload staged with a payment intent and replayed once the
// payment succeeds.
type ReservationDraft struct {
	PropertyID     uint64  `json:"property_id"`
	GuestID        uint64  `json:"guest_id"`
	RoomTypeID     uint64  `json:"room_type_id"`
	RatePlanID     uint64  `json:"rate_plan_id"`
	CheckIn        Date    `json:"check_in"`
	CheckOut       Date    `json:"check_out"`
	Adults         int     `json:"adults"`
	Children       int     `json:"children"`
	DiscountAmount float64 `json:"discount_amount"`
	Currency       string  `json:"currency"`
}

// DateLayout is the wire format of calendar dates.
const DateLayout = "2006-01-02"

// Date is a calendar date at UTC midnight, encoded as YYYY-MM-DD.
type Date struct {
	time.Time
}

// NewDate truncates t to its UTC calendar date.
func NewDate(t time.Time) Date {
	y, m, d := t.UTC().Date()
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, err
	}
	return Date{t}, nil
}

func (d Date) String() string { return d.Format(DateLayout) }

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte(`null`), nil
	}
	return json.Marshal(d.Format(DateLayout))
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	p, err := ParseDate(s)
	if err != nil {
		return fmt.Errorf("date %q: want %s", s, DateLayout)
	}
	*d = p
	return nil
}

// DateRange is a half-open interval [Start, End).
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether two half-open ranges intersect. Back-to-back
// ranges sharing a boundary date do not overlap.
func (r DateRange) Overlaps(o DateRange) bool {
	return r.Start.Before(o.End) && o.Start.Before(r.End)
}
