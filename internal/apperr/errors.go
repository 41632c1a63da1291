// Package apperr defines the error taxonomy shared by the reservation
// state machine, the payment gateway adapter and the HTTP handlers.
// Callers wrap a sentinel with fmt.Errorf("%w: ...") and higher layers
// classify the result with errors.Is / errors.As.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrValidation reports bad input shape or range. Not retried.
	ErrValidation = errors.New("validation error")
	// ErrInvalidTransition is returned when the requested status change is
	// not an edge of the reservation state machine.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrPreconditionFailed is returned when the status allows the action
	// but another guard (e.g. missing room assignment) does not.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrRoomConflict signals that the room is occupied by an overlapping
	// active reservation. The caller should pick another room.
	ErrRoomConflict = errors.New("room conflict")
	// ErrGateway wraps any transport or non-2xx failure from the payment gateway.
	ErrGateway = errors.New("gateway error")
	// ErrNotFound is returned for unknown reservation ids, rooms or order codes.
	ErrNotFound = errors.New("not found")
	// ErrConcurrentUpdate is returned when an optimistic version check loses
	// against a concurrent transition on the same reservation.
	ErrConcurrentUpdate = errors.New("concurrent update")
)

// RoomConflictError carries the reservation currently holding the room.
type RoomConflictError struct {
	RoomID        uint64
	ReservationID uint64
}

func (e *RoomConflictError) Error() string {
	return fmt.Sprintf("room %d already assigned to reservation %d", e.RoomID, e.ReservationID)
}

// Is makes errors.Is(err, ErrRoomConflict) match.
func (e *RoomConflictError) Is(target error) bool { return target == ErrRoomConflict }

// GatewayError describes an upstream failure. StatusCode is zero for
// transport errors (timeouts, refused connections).
type GatewayError struct {
	StatusCode int
	Code       string
	Desc       string
	Err        error
}

func (e *GatewayError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("gateway error: %v", e.Err)
	case e.StatusCode != 0 && e.Code != "":
		return fmt.Sprintf("gateway error: http %d, code %s: %s", e.StatusCode, e.Code, e.Desc)
	case e.StatusCode != 0 && e.Desc != "":
		return fmt.Sprintf("gateway error: http %d: %s", e.StatusCode, e.Desc)
	case e.StatusCode != 0:
		return fmt.Sprintf("gateway error: http %d", e.StatusCode)
	}
	return fmt.Sprintf("gateway error: code %s: %s", e.Code, e.Desc)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrGateway) match.
func (e *GatewayError) Is(target error) bool { return target == ErrGateway }

// HTTPStatus maps an error from the domain layers onto an HTTP status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrPreconditionFailed),
		errors.Is(err, ErrRoomConflict),
		errors.Is(err, ErrConcurrentUpdate):
		return http.StatusConflict
	case errors.Is(err, ErrGateway):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
