package model

import "time"

// ReservationEventType names a lifecycle event published after a transition.
type ReservationEventType string

const (
	EventCreated          ReservationEventType = "reservation.created"
	EventConfirmed        ReservationEventType = "reservation.confirmed"
	EventRoomAssigned     ReservationEventType = "reservation.room_assigned"
	EventCheckedIn        ReservationEventType = "reservation.checked_in"
	EventCheckedOut       ReservationEventType = "reservation.checked_out"
	EventCancelled        ReservationEventType = "reservation.cancelled"
	EventNoShow           ReservationEventType = "reservation.no_show"
	EventServiceChanged   ReservationEventType = "reservation.service_changed"
	EventServiceUnderflow ReservationEventType = "reservation.service_underflow"
	EventPaymentRecorded  ReservationEventType = "reservation.payment_recorded"
	EventRefunded         ReservationEventType = "reservation.refunded"
)

// ReservationEvent carries enough of the reservation for downstream
// consumers to log or notify without reading the primary database.
type ReservationEvent struct {
	EventID          string               `json:"event_id"`
	Type             ReservationEventType `json:"type"`
	ReservationID    uint64               `json:"reservation_id"`
	ConfirmationCode string               `json:"confirmation_code"`
	Status           ReservationStatus    `json:"status"`
	PaymentStatus    PaymentStatus        `json:"payment_status"`
	RoomID           *uint64              `json:"room_id,omitempty"`
	TotalAmount      float64              `json:"total_amount"`
	AmountPaid       float64              `json:"amount_paid"`
	Currency         string               `json:"currency"`
	OccurredAt       time.Time            `json:"occurred_at"`
}
