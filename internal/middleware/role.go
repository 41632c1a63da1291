package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Staff roles allowed to drive the reservation lifecycle.
const (
	RoleAdmin = "ADMIN"
	RoleStaff = "STAFF"
)

// RequireRole rejects requests whose role, as set by JWTAuth, is not one
// of roles. It must run after JWTAuth.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[strings.ToUpper(r)] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role, ok := c.Get(ctxRole).(string)
			if !ok || !allowed[role] {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
			}
			return next(c)
		}
	}
}
