package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing

	"github.com/iliyamo/hotel-settlement/internal/handler"    // import the handlers that implement business logic
	"github.com/iliyamo/hotel-settlement/internal/middleware" // import middleware for JWT authentication and role enforcement
)

// RegisterRoutes registers routes that do not require authentication on
// the provided Echo instance. Currently it exposes only a health check.
func RegisterRoutes(e *echo.Echo, h *handler.HealthHandler) {
	// Map the GET request at path "/healthz" to the Health handler. This
	// endpoint can be used by load balancers or monitoring systems to verify
	// that the service and its dependencies are up.
	e.GET("/healthz", h.Health)
}

// RegisterReservations registers the front-desk reservation API under /v1.
// All routes require a valid JWT and the STAFF or ADMIN role.
func RegisterReservations(e *echo.Echo, h *handler.ReservationHandler, jwtSecret string) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(middleware.RoleStaff, middleware.RoleAdmin),
	)

	// ---- Reservations ----
	g.POST("/reservations", h.Create) // priced and stored as pending
	g.GET("/reservations/:id", h.Get)
	g.GET("/reservations/code/:code", h.GetByCode) // guest-facing confirmation code
	g.GET("/reservations/:id/balance", h.Balance)  // total, paid and outstanding

	// ---- Lifecycle ----
	// Each route is one state-machine edge; an illegal edge answers 409.
	g.POST("/reservations/:id/confirm", h.Confirm)        // pending -> confirmed
	g.POST("/reservations/:id/assign-room", h.AssignRoom) // body {"room_id"}; 409 when the room is taken
	g.POST("/reservations/:id/check-in", h.CheckIn)       // confirmed -> checked_in, needs a room
	g.POST("/reservations/:id/check-out", h.CheckOut)     // optional {"extra_charges"} added before closing
	g.POST("/reservations/:id/cancel", h.Cancel)          // from pending or confirmed
	g.POST("/reservations/:id/no-show", h.NoShow)         // confirmed guests who never arrived

	// ---- Ledger ----
	g.POST("/reservations/:id/services", h.AddService)      // body {"amount","tax"}
	g.DELETE("/reservations/:id/services", h.RemoveService) // clamps at zero and flags the underflow
	g.POST("/reservations/:id/payments", h.RecordPayment)   // front-desk payment, body {"amount"}
	g.POST("/reservations/:id/refund", h.Refund)            // cancelled or no-show with money taken

	// ---- Rooms ----
	g.GET("/rooms/:id/availability", h.RoomAvailability) // ?check_in=YYYY-MM-DD&check_out=YYYY-MM-DD
}

// PaymentGuards are the middlewares that protect the payment routes.
type PaymentGuards struct {
	JWTSecret string
	Webhook   echo.MiddlewareFunc // middleware.WebhookAuth
	RateLimit echo.MiddlewareFunc // middleware.NewTokenBucket
}

// RegisterPayments registers checkout creation, the gateway webhook and
// the client poll endpoint. Checkout needs a JWT of any role; the webhook
// is authenticated by signature or shared secret; the poll is public but
// rate limited since clients call it every few seconds.
func RegisterPayments(e *echo.Echo, h *handler.PaymentHandler, guards PaymentGuards) {
	e.POST("/v1/payments", h.CreatePayment, middleware.JWTAuth(guards.JWTSecret))
	e.POST("/v1/payments/webhook", h.Webhook, guards.Webhook)
	e.GET("/payment-status/:orderCode", h.PaymentStatus, guards.RateLimit)
}
