package middleware

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/hotel-settlement/internal/apperr"
)

// ErrorHandler renders every error as {"error": msg}. Echo errors keep
// their status; domain errors are classified by apperr.HTTPStatus and
// unclassified ones are logged and reported as a generic 500.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status := http.StatusInternalServerError
	msg := http.StatusText(status)

	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		status = he.Code
		msg = fmt.Sprint(he.Message)
		if s, ok := he.Message.(string); ok {
			msg = s
		}
	case apperr.HTTPStatus(err) != http.StatusInternalServerError:
		status = apperr.HTTPStatus(err)
		msg = err.Error()
	default:
		log.Printf("http: %s %s: %v", c.Request().Method, c.Request().URL.Path, err)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, echo.Map{"error": msg})
	}
	if err != nil {
		log.Printf("http: write error response: %v", err)
	}
}
