package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/hotel-settlement/internal/apperr"
	"github.com/iliyamo/hotel-settlement/internal/config"
	"github.com/iliyamo/hotel-settlement/internal/payment"
	"github.com/iliyamo/hotel-settlement/internal/utils"
)

const testSecret = "jwt-test-secret"

func whoami(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"user": UserID(c), "role": c.Get(ctxRole)})
}

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func bearer(t *testing.T, role string) string {
	t.Helper()
	tok, err := utils.NewAccessToken(testSecret, "42", role, time.Hour)
	require.NoError(t, err)
	return "Bearer " + tok.Token
}

func TestJWTAuth(t *testing.T) {
	e := echo.New()
	e.GET("/me", whoami, JWTAuth(testSecret))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", bearer(t, "staff"))
	rec := serve(e, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user":"42","role":"STAFF"}`, rec.Body.String())

	cases := map[string]string{
		"missing":      "",
		"not bearer":   "Basic abc",
		"garbage":      "Bearer not.a.token",
		"wrong secret": "",
		"expired":      "",
		"no expiry":    "",
		"wrong alg":    "",
	}
	sign := func(method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return "Bearer " + s
	}
	other, err := utils.NewAccessToken("other", "42", "STAFF", time.Hour)
	require.NoError(t, err)
	cases["wrong secret"] = "Bearer " + other.Token
	cases["expired"] = sign(jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"sub": "42", "exp": time.Now().Add(-time.Minute).Unix()})
	cases["no expiry"] = sign(jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"sub": "42"})
	cases["wrong alg"] = sign(jwt.SigningMethodHS512, []byte(testSecret), jwt.MapClaims{"sub": "42", "exp": time.Now().Add(time.Hour).Unix()})

	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := serve(e, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestRequireRole(t *testing.T) {
	e := echo.New()
	e.GET("/staff", whoami, JWTAuth(testSecret), RequireRole(RoleStaff, RoleAdmin))

	for role, want := range map[string]int{
		"STAFF": http.StatusOK,
		"admin": http.StatusOK,
		"GUEST": http.StatusForbidden,
		"":      http.StatusForbidden,
	} {
		req := httptest.NewRequest(http.MethodGet, "/staff", nil)
		req.Header.Set("Authorization", bearer(t, role))
		assert.Equal(t, want, serve(e, req).Code, "role %q", role)
	}
}

func TestWebhookAuth(t *testing.T) {
	signer := payment.NewSigner("checksum")
	e := echo.New()
	e.POST("/hook", func(c echo.Context) error {
		b, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return err
		}
		return c.String(http.StatusOK, string(b))
	}, WebhookAuth(signer, "shared"))

	body := `{"code":"00","data":{"orderCode":1}}`
	post := func(h map[string]string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(body))
		for k, v := range h {
			req.Header.Set(k, v)
		}
		return serve(e, req)
	}

	rec := post(map[string]string{HeaderWebhookSignature: signer.Sign([]byte(body))})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, body, rec.Body.String(), "body must be readable after verification")

	assert.Equal(t, http.StatusOK, post(map[string]string{HeaderWebhookSecret: "shared"}).Code)
	assert.Equal(t, http.StatusUnauthorized, post(nil).Code)
	assert.Equal(t, http.StatusUnauthorized, post(map[string]string{HeaderWebhookSecret: "wrong"}).Code)
	assert.Equal(t, http.StatusUnauthorized, post(map[string]string{HeaderWebhookSignature: signer.Sign([]byte("other"))}).Code)
}

func TestWebhookAuth_NoSharedSecretConfigured(t *testing.T) {
	e := echo.New()
	e.POST("/hook", func(c echo.Context) error { return c.NoContent(http.StatusOK) },
		WebhookAuth(payment.NewSigner("checksum"), ""))

	req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(`{}`))
	req.Header.Set(HeaderWebhookSecret, "")
	assert.Equal(t, http.StatusUnauthorized, serve(e, req).Code)
}

func TestTokenBucket(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := config.RateLimitConfig{
		Enabled:        true,
		Capacity:       2,
		RefillTokens:   1,
		RefillInterval: time.Hour,
		TTL:            time.Hour,
		KeyStrategy:    "ip_route",
		Prefix:         "rl",
	}
	e := echo.New()
	e.GET("/payment-status/:orderCode", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, NewTokenBucket(cfg, rdb))

	get := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/payment-status/1", nil)
		req.RemoteAddr = ip + ":1234"
		return serve(e, req)
	}
	assert.Equal(t, http.StatusOK, get("10.0.0.1").Code)
	rec := get("10.0.0.1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = get("10.0.0.1")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "rate limit exceeded", body["error"])

	assert.Equal(t, http.StatusOK, get("10.0.0.2").Code, "buckets are per ip")
	assert.True(t, mr.Exists("rl:ip:10.0.0.1:route:GET /payment-status/:orderCode"))
}

func TestTokenBucket_DisabledOrFailOpen(t *testing.T) {
	handler := func(c echo.Context) error { return c.NoContent(http.StatusOK) }

	e := echo.New()
	e.GET("/x", handler, NewTokenBucket(config.RateLimitConfig{Enabled: false}, nil))
	assert.Equal(t, http.StatusOK, serve(e, httptest.NewRequest(http.MethodGet, "/x", nil)).Code)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()
	e = echo.New()
	e.GET("/x", handler, NewTokenBucket(config.RateLimitConfig{Enabled: true, Capacity: 1, RefillTokens: 1, RefillInterval: time.Second, TTL: time.Minute}, rdb))
	assert.Equal(t, http.StatusOK, serve(e, httptest.NewRequest(http.MethodGet, "/x", nil)).Code)
}

func TestErrorHandler(t *testing.T) {
	cases := []struct {
		err  error
		code int
		msg  string
	}{
		{fmt.Errorf("%w: adults must be at least 1", apperr.ErrValidation), http.StatusBadRequest, "validation error: adults must be at least 1"},
		{fmt.Errorf("%w: reservation 9", apperr.ErrNotFound), http.StatusNotFound, "not found: reservation 9"},
		{&apperr.RoomConflictError{RoomID: 1, ReservationID: 2}, http.StatusConflict, "room 1 already assigned to reservation 2"},
		{&apperr.GatewayError{StatusCode: 500}, http.StatusBadGateway, "gateway error: http 500"},
		{echo.NewHTTPError(http.StatusMethodNotAllowed, "nope"), http.StatusMethodNotAllowed, "nope"},
		{errors.New("db password is hunter2"), http.StatusInternalServerError, "Internal Server Error"},
	}
	for _, tc := range cases {
		e := echo.New()
		e.HTTPErrorHandler = ErrorHandler
		e.GET("/", func(echo.Context) error { return tc.err })

		rec := serve(e, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, tc.code, rec.Code, tc.msg)
		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, tc.msg, body["error"])
	}
}

func TestTokenBucketLimiter_Refill(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	now := time.UnixMilli(1_700_000_000_000)
	l := &tokenBucketLimiter{
		cfg: config.RateLimitConfig{Capacity: 2, RefillTokens: 1, RefillInterval: time.Second, TTL: time.Minute},
		rdb: rdb,
		now: func() time.Time { return now },
	}
	ctx := context.Background()
	take := func() bucketDecision {
		t.Helper()
		d, err := l.take(ctx, "k")
		require.NoError(t, err)
		return d
	}

	assert.True(t, take().allowed)
	assert.True(t, take().allowed)
	d := take()
	assert.False(t, d.allowed)
	assert.Equal(t, time.Second, d.wait)

	now = now.Add(400 * time.Millisecond)
	d = take()
	assert.False(t, d.allowed)
	assert.Equal(t, 600*time.Millisecond, d.wait)

	now = now.Add(600 * time.Millisecond)
	d = take()
	assert.True(t, d.allowed)
	assert.Equal(t, int64(0), d.left)

	// A long idle period refills to capacity, never beyond it.
	now = now.Add(time.Hour)
	assert.Equal(t, int64(1), take().left)
	assert.Equal(t, int64(0), take().left)
	assert.False(t, take().allowed)
}

func TestRateKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/payment-status/9", nil)
	req.RemoteAddr = "192.0.2.7:5555"
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/payment-status/:orderCode")
	c.Set(ctxUserID, "42")

	for strategy, want := range map[string]string{
		"ip":         "rl:ip:192.0.2.7",
		"user":       "rl:user:42",
		"ip_route":   "rl:ip:192.0.2.7:route:GET /payment-status/:orderCode",
		"user_route": "rl:user:42:route:GET /payment-status/:orderCode",
		"":           "rl:ip:192.0.2.7:user:42:route:GET /payment-status/:orderCode",
		"bogus":      "rl:ip:192.0.2.7:user:42:route:GET /payment-status/:orderCode",
	} {
		assert.Equal(t, want, rateKey(config.RateLimitConfig{Prefix: "rl", KeyStrategy: strategy}, c), strategy)
	}
}
