package handler

// This file exposes the reservation lifecycle to front-desk staff. Every
// mutation goes through the service so that the amounts, the payment
// status and the room assignment stay consistent. Domain errors are
// returned as-is and rendered by middleware.ErrorHandler.

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/hotel-settlement/internal/model"
	"github.com/iliyamo/hotel-settlement/internal/service"
)

// ReservationService is the part of service.ReservationService the
// reservation endpoints use.
type ReservationService interface {
	Create(ctx context.Context, d model.ReservationDraft) (*model.Reservation, error)
	Get(ctx context.Context, id uint64) (*model.Reservation, error)
	GetByConfirmationCode(ctx context.Context, code string) (*model.Reservation, error)
	Balance(ctx context.Context, id uint64) (*service.Balance, error)
	Confirm(ctx context.Context, id uint64) (*model.Reservation, error)
	AssignRoom(ctx context.Context, id, roomID uint64) (*model.Reservation, error)
	CheckIn(ctx context.Context, id uint64) (*model.Reservation, error)
	CheckOut(ctx context.Context, id uint64, extraCharges float64) (*model.Reservation, error)
	Cancel(ctx context.Context, id uint64) (*model.Reservation, error)
	MarkNoShow(ctx context.Context, id uint64) (*model.Reservation, error)
	AddService(ctx context.Context, id uint64, amount, tax float64) (*model.Reservation, error)
	RemoveService(ctx context.Context, id uint64, amount, tax float64) (*model.Reservation, error)
	RecordPayment(ctx context.Context, id uint64, amount float64) (*model.Reservation, error)
	Refund(ctx context.Context, id uint64) (*model.Reservation, error)
}

// RoomChecker answers availability questions. The room row is locked only
// while the check runs; AssignRoom repeats the check under its own lock.
type RoomChecker interface {
	Check(ctx context.Context, roomID uint64, stay model.DateRange) (bool, error)
}

// ReservationHandler serves /v1/reservations.
type ReservationHandler struct {
	svc   ReservationService
	rooms RoomChecker
}

// NewReservationHandler panics when svc is nil. rooms may be nil, in
// which case the availability endpoint is not usable.
func NewReservationHandler(svc ReservationService, rooms RoomChecker) *ReservationHandler {
	if svc == nil {
		panic("nil service passed to NewReservationHandler")
	}
	return &ReservationHandler{svc: svc, rooms: rooms}
}

type assignRoomRequest struct {
	RoomID uint64 `json:"room_id"`
}

type checkOutRequest struct {
	ExtraCharges float64 `json:"extra_charges"`
}

type serviceRequest struct {
	Amount float64 `json:"amount"`
	Tax    float64 `json:"tax"`
}

type paymentRequest struct {
	Amount float64 `json:"amount"`
}

func parseID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id != 0
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}

// Create handles POST /v1/reservations.
func (h *ReservationHandler) Create(c echo.Context) error {
	var d model.ReservationDraft
	if err := c.Bind(&d); err != nil {
		return badRequest(c, "invalid body")
	}
	res, err := h.svc.Create(c.Request().Context(), d)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res)
}

// Get handles GET /v1/reservations/:id.
func (h *ReservationHandler) Get(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid reservation id")
	}
	res, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// GetByCode handles GET /v1/reservations/code/:code. The code is
// matched case-insensitively.
func (h *ReservationHandler) GetByCode(c echo.Context) error {
	code := strings.TrimSpace(c.Param("code"))
	if code == "" {
		return badRequest(c, "missing confirmation code")
	}
	res, err := h.svc.GetByConfirmationCode(c.Request().Context(), code)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// Balance handles GET /v1/reservations/:id/balance.
func (h *ReservationHandler) Balance(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid reservation id")
	}
	b, err := h.svc.Balance(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

// transition runs a body-less lifecycle action on the :id reservation.
func (h *ReservationHandler) transition(fn func(ctx context.Context, id uint64) (*model.Reservation, error)) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, ok := parseID(c, "id")
		if !ok {
			return badRequest(c, "invalid reservation id")
		}
		res, err := fn(c.Request().Context(), id)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, res)
	}
}

// Confirm handles POST /v1/reservations/:id/confirm.
func (h *ReservationHandler) Confirm(c echo.Context) error { return h.transition(h.svc.Confirm)(c) }

// CheckIn handles POST /v1/reservations/:id/check-in.
func (h *ReservationHandler) CheckIn(c echo.Context) error { return h.transition(h.svc.CheckIn)(c) }

// Cancel handles POST /v1/reservations/:id/cancel.
func (h *ReservationHandler) Cancel(c echo.Context) error { return h.transition(h.svc.Cancel)(c) }

// NoShow handles POST /v1/reservations/:id/no-show.
func (h *ReservationHandler) NoShow(c echo.Context) error { return h.transition(h.svc.MarkNoShow)(c) }

// Refund handles POST /v1/reservations/:id/refund.
func (h *ReservationHandler) Refund(c echo.Context) error { return h.transition(h.svc.Refund)(c) }

// AssignRoom handles POST /v1/reservations/:id/assign-room with
// {"room_id": n}. A taken room answers 409 naming the holder.
func (h *ReservationHandler) AssignRoom(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid reservation id")
	}
	var req assignRoomRequest
	if err := c.Bind(&req); err != nil || req.RoomID == 0 {
		return badRequest(c, "room_id is required")
	}
	res, err := h.svc.AssignRoom(c.Request().Context(), id, req.RoomID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// CheckOut handles POST /v1/reservations/:id/check-out. The body is
// optional; extra_charges defaults to zero.
func (h *ReservationHandler) CheckOut(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid reservation id")
	}
	var req checkOutRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return badRequest(c, "invalid body")
		}
	}
	res, err := h.svc.CheckOut(c.Request().Context(), id, req.ExtraCharges)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// AddService handles POST /v1/reservations/:id/services.
func (h *ReservationHandler) AddService(c echo.Context) error {
	return h.service(c, h.svc.AddService)
}

// RemoveService handles DELETE /v1/reservations/:id/services.
func (h *ReservationHandler) RemoveService(c echo.Context) error {
	return h.service(c, h.svc.RemoveService)
}

func (h *ReservationHandler) service(c echo.Context, fn func(ctx context.Context, id uint64, amount, tax float64) (*model.Reservation, error)) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid reservation id")
	}
	var req serviceRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	res, err := fn(c.Request().Context(), id, req.Amount, req.Tax)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// RecordPayment handles POST /v1/reservations/:id/payments for payments
// taken at the desk.
func (h *ReservationHandler) RecordPayment(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid reservation id")
	}
	var req paymentRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	res, err := h.svc.RecordPayment(c.Request().Context(), id, req.Amount)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// RoomAvailability handles GET /v1/rooms/:id/availability?check_in=&check_out=.
func (h *ReservationHandler) RoomAvailability(c echo.Context) error {
	if h.rooms == nil {
		return c.JSON(http.StatusNotImplemented, echo.Map{"error": "room availability not configured"})
	}
	roomID, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid room id")
	}
	in, err := model.ParseDate(c.QueryParam("check_in"))
	if err != nil {
		return badRequest(c, "check_in must be YYYY-MM-DD")
	}
	out, err := model.ParseDate(c.QueryParam("check_out"))
	if err != nil {
		return badRequest(c, "check_out must be YYYY-MM-DD")
	}
	if !out.After(in.Time) {
		return badRequest(c, "check_out must be after check_in")
	}
	free, err := h.rooms.Check(c.Request().Context(), roomID, model.DateRange{Start: in.Time, End: out.Time})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{
		"room_id":   roomID,
		"check_in":  in,
		"check_out": out,
		"available": free,
	})
}
