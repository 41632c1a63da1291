package handler // declare the package name; contains HTTP handlers

import (
	"context"
	"net/http" // net/http provides status codes and response helpers
	"time"

	"github.com/labstack/echo/v4" // echo is the web framework used for this project
)

// Pinger checks one dependency, for example (*sql.DB).PingContext.
type Pinger func(ctx context.Context) error

// HealthHandler reports liveness and, when dependencies are registered,
// whether each of them answers a ping.
type HealthHandler struct {
	checks map[string]Pinger
}

// NewHealthHandler builds a handler with the named dependency checks.
// Nil checks are skipped.
func NewHealthHandler(checks map[string]Pinger) *HealthHandler {
	h := &HealthHandler{checks: make(map[string]Pinger, len(checks))}
	for name, p := range checks {
		if p != nil {
			h.checks[name] = p
		}
	}
	return h
}

// Health is the health-check endpoint used by load balancers and
// monitoring systems. It returns 200 with {"status":"ok"} when every
// dependency answers within two seconds and 503 otherwise.
func (h *HealthHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for name, ping := range h.checks {
		if err := ping(ctx); err != nil {
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}
	body := echo.Map{"status": "ok"}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	if len(deps) > 0 {
		body["dependencies"] = deps
	}
	return c.JSON(status, body)
}
