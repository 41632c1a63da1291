package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: adults must be at least 1", ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("%w: reservation 9", ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: pending -> checked_in", ErrInvalidTransition), http.StatusConflict},
		{fmt.Errorf("%w: no room assigned", ErrPreconditionFailed), http.StatusConflict},
		{&RoomConflictError{RoomID: 3, ReservationID: 7}, http.StatusConflict},
		{&GatewayError{StatusCode: 503}, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatus(tc.err), tc.err.Error())
	}
}

func TestRoomConflictError_Is(t *testing.T) {
	err := fmt.Errorf("assign: %w", &RoomConflictError{RoomID: 12, ReservationID: 4})

	assert.True(t, errors.Is(err, ErrRoomConflict))
	var rc *RoomConflictError
	assert.True(t, errors.As(err, &rc))
	assert.Equal(t, uint64(4), rc.ReservationID)
	assert.Equal(t, "assign: room 12 already assigned to reservation 4", err.Error())
}

func TestGatewayError_UnwrapsTransport(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := &GatewayError{Err: cause}

	assert.True(t, errors.Is(err, ErrGateway))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "gateway error: dial tcp: connection refused", err.Error())
}

func TestGatewayError_Message(t *testing.T) {
	cases := []struct {
		err  *GatewayError
		want string
	}{
		{&GatewayError{StatusCode: 400, Code: "20", Desc: "invalid signature"}, "gateway error: http 400, code 20: invalid signature"},
		{&GatewayError{StatusCode: 500, Desc: "internal server error"}, "gateway error: http 500: internal server error"},
		{&GatewayError{StatusCode: 502}, "gateway error: http 502"},
		{&GatewayError{Code: "01", Desc: "duplicate order"}, "gateway error: code 01: duplicate order"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.err.Error())
	}
}
