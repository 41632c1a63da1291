package middleware

import "github.com/labstack/echo/v4"

// UserID returns the authenticated subject, or "anon" before JWTAuth or on
// public routes.
func UserID(c echo.Context) string {
	if s, ok := c.Get(ctxUserID).(string); ok && s != "" {
		return s
	}
	return "anon"
}
