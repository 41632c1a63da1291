package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/hotel-settlement/internal/config"
)

// takeToken refills the bucket in whole intervals and takes one token.
// A full bucket restarts its refill clock so idle time does not bank
// tokens beyond capacity. Reply: {allowed, left, wait_ms}.
var takeToken = redis.NewScript(`
local cap, step, every = tonumber(ARGV[2]), tonumber(ARGV[3]), tonumber(ARGV[4])
local now = tonumber(ARGV[1])
local b = redis.call('HMGET', KEYS[1], 'n', 'ts')
local n, ts = tonumber(b[1]) or cap, tonumber(b[2]) or now

local gained = math.floor(math.max(now - ts, 0) / every)
if gained > 0 then
	n = math.min(cap, n + gained * step)
	ts = ts + gained * every
end
if n >= cap then ts = now end

local ok, wait = 0, 0
if n >= 1 then
	ok, n = 1, n - 1
else
	wait = math.max(every - (now - ts), 0)
end

redis.call('HSET', KEYS[1], 'n', n, 'ts', ts)
redis.call('PEXPIRE', KEYS[1], tonumber(ARGV[5]))
return {ok, n, wait}
`)

var errBucketReply = errors.New("ratelimit: unexpected script reply")

// bucketDecision is one reply of takeToken.
type bucketDecision struct {
	allowed bool
	left    int64
	wait    time.Duration
}

type tokenBucketLimiter struct {
	cfg config.RateLimitConfig
	rdb *redis.Client
	now func() time.Time
}

func (l *tokenBucketLimiter) take(ctx context.Context, key string) (bucketDecision, error) {
	vals, err := takeToken.Run(ctx, l.rdb, []string{key},
		l.now().UnixMilli(),
		l.cfg.Capacity,
		l.cfg.RefillTokens,
		l.cfg.RefillInterval.Milliseconds(),
		l.cfg.TTL.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return bucketDecision{}, err
	}
	if len(vals) != 3 {
		return bucketDecision{}, errBucketReply
	}
	return bucketDecision{
		allowed: vals[0] == 1,
		left:    vals[1],
		wait:    time.Duration(vals[2]) * time.Millisecond,
	}, nil
}

// NewTokenBucket limits requests per key with a Redis token bucket. With
// the limiter disabled or no client it passes everything through. Redis
// errors fail open: the poll endpoint must keep answering when the
// limiter cannot.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	l := &tokenBucketLimiter{cfg: cfg, rdb: rdb, now: time.Now}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := rateKey(cfg, c)
			d, err := l.take(c.Request().Context(), key)
			if err != nil {
				if cfg.Debug {
					c.Logger().Warnf("ratelimit: %s: %v", key, err)
				}
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.left, 10))
			if d.allowed {
				return next(c)
			}
			// Retry-After is whole seconds, rounded up.
			h.Set("Retry-After", strconv.FormatInt(int64((d.wait+time.Second-1)/time.Second), 10))
			if cfg.Debug {
				c.Logger().Infof("ratelimit: blocked %s for %s", key, d.wait)
			}
			return c.JSON(http.StatusTooManyRequests, echo.Map{
				"error":          "rate limit exceeded",
				"retry_after_ms": d.wait.Milliseconds(),
			})
		}
	}
}

// rateKey scopes a bucket by the configured strategy, an underscore
// separated list of ip, user and route. Unknown strategies use all three.
func rateKey(cfg config.RateLimitConfig, c echo.Context) string {
	scopes := strings.Split(strings.ToLower(cfg.KeyStrategy), "_")
	parts := make([]string, 0, 1+2*len(scopes))
	parts = append(parts, cfg.Prefix)
	for _, s := range scopes {
		switch s {
		case "ip":
			ip := c.RealIP()
			if ip == "" {
				ip = "unknown"
			}
			parts = append(parts, "ip", ip)
		case "user":
			parts = append(parts, "user", UserID(c))
		case "route":
			parts = append(parts, "route", c.Request().Method+" "+c.Path())
		default:
			return rateKey(config.RateLimitConfig{Prefix: cfg.Prefix, KeyStrategy: "ip_user_route"}, c)
		}
	}
	return strings.Join(parts, ":")
}
