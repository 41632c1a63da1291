package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/hotel-settlement/internal/apperr"
	"github.com/iliyamo/hotel-settlement/internal/model"
)

// OutcomeState is the progress of reservation creation for an order.
type OutcomeState int

const (
	OutcomeNone    OutcomeState = iota // nobody has claimed creation
	OutcomeClaimed                     // a poller is creating the reservation
	OutcomeDone                        // the reservation exists
)

// Outcome is the confirmation outcome of one order code.
type Outcome struct {
	State         OutcomeState
	ReservationID uint64
}

// MergeFunc updates a record in place. It returns the TTL to store the
// record with and whether anything changed; an unchanged record is not
// written. It may run more than once when a concurrent writer interferes.
type MergeFunc func(rec *model.PaymentStatusRecord) (ttl time.Duration, changed bool, err error)

// StatusStore is the shared key-value state of the settlement pipeline.
// Lookups of unknown order codes return errors wrapping apperr.ErrNotFound.
type StatusStore interface {
	// Seed stores a new record unless one exists for the order code.
	Seed(ctx context.Context, rec *model.PaymentStatusRecord, ttl time.Duration) error
	Get(ctx context.Context, orderCode string) (*model.PaymentStatusRecord, error)
	// Merge applies fn as an atomic read-modify-write and returns the stored record.
	Merge(ctx context.Context, orderCode string, fn MergeFunc) (*model.PaymentStatusRecord, error)
	// ClaimOutcome atomically claims reservation creation. Only one caller
	// gets won=true until the claim is completed, released or expires.
	ClaimOutcome(ctx context.Context, orderCode string, ttl time.Duration) (token string, won bool, err error)
	// CompleteOutcome replaces a claim held under token with the reservation id.
	CompleteOutcome(ctx context.Context, orderCode, token string, reservationID uint64, ttl time.Duration) error
	// ReleaseOutcome drops a claim held under token so another poll can retry.
	ReleaseOutcome(ctx context.Context, orderCode, token string) error
	Outcome(ctx context.Context, orderCode string) (Outcome, error)
	// StampPollStart records the first poll time and returns the stored stamp.
	StampPollStart(ctx context.Context, orderCode string, now time.Time, ttl time.Duration) (time.Time, error)
}

// ErrClaimLost is returned by CompleteOutcome when the claim expired or
// was taken over before completion.
var ErrClaimLost = errors.New("settlement claim lost")

// mergeRetries bounds optimistic WATCH retries under contention.
const mergeRetries = 10

const claimPrefix = "claim:"

// completeScript swaps a claim for the reservation id only if the caller
// still holds it.
var completeScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		redis.call('SET', KEYS[1], ARGV[2], 'EX', tonumber(ARGV[3]))
		return 1
	end
	return 0
`)

// releaseScript deletes a claim only if the caller still holds it.
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// RedisStatusStore keeps records as JSON strings under <prefix>:payment:<code>.
type RedisStatusStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStatusStore(rdb *redis.Client, prefix string) *RedisStatusStore {
	if prefix == "" {
		prefix = "hotel"
	}
	return &RedisStatusStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStatusStore) recordKey(orderCode string) string {
	return s.prefix + ":payment:" + orderCode
}

func (s *RedisStatusStore) outcomeKey(orderCode string) string {
	return s.prefix + ":outcome:" + orderCode
}

func (s *RedisStatusStore) pollKey(orderCode string) string {
	return s.prefix + ":pollstart:" + orderCode
}

func (s *RedisStatusStore) Seed(ctx context.Context, rec *model.PaymentStatusRecord, ttl time.Duration) error {
	if rec.OrderCode == "" {
		return fmt.Errorf("%w: order code is required", apperr.ErrValidation)
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(ctx, s.recordKey(rec.OrderCode), b, ttl).Result()
	if err != nil {
		return fmt.Errorf("seed payment %s: %w", rec.OrderCode, err)
	}
	if !ok {
		return fmt.Errorf("%w: payment %s already exists", apperr.ErrPreconditionFailed, rec.OrderCode)
	}
	return nil
}

func (s *RedisStatusStore) Get(ctx context.Context, orderCode string) (*model.PaymentStatusRecord, error) {
	b, err := s.rdb.Get(ctx, s.recordKey(orderCode)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: payment %s", apperr.ErrNotFound, orderCode)
	}
	if err != nil {
		return nil, fmt.Errorf("get payment %s: %w", orderCode, err)
	}
	return decodeRecord(orderCode, b)
}

func decodeRecord(orderCode string, b []byte) (*model.PaymentStatusRecord, error) {
	var rec model.PaymentStatusRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("decode payment %s: %w", orderCode, err)
	}
	return &rec, nil
}

func (s *RedisStatusStore) Merge(ctx context.Context, orderCode string, fn MergeFunc) (*model.PaymentStatusRecord, error) {
	key := s.recordKey(orderCode)
	var out *model.PaymentStatusRecord
	txf := func(tx *redis.Tx) error {
		b, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: payment %s", apperr.ErrNotFound, orderCode)
		}
		if err != nil {
			return err
		}
		rec, err := decodeRecord(orderCode, b)
		if err != nil {
			return err
		}
		ttl, changed, err := fn(rec)
		if err != nil {
			return err
		}
		if !changed {
			out = rec
			return nil
		}
		nb, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, nb, ttl)
			return nil
		})
		if err == nil {
			out = rec
		}
		return err
	}
	for i := 0; i < mergeRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, fmt.Errorf("merge payment %s: %w", orderCode, apperr.ErrConcurrentUpdate)
}

func (s *RedisStatusStore) ClaimOutcome(ctx context.Context, orderCode string, ttl time.Duration) (string, bool, error) {
	token := claimPrefix + uuid.NewString()
	ok, err := s.rdb.SetNX(ctx, s.outcomeKey(orderCode), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("claim outcome %s: %w", orderCode, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (s *RedisStatusStore) CompleteOutcome(ctx context.Context, orderCode, token string, reservationID uint64, ttl time.Duration) error {
	secs := int64(ttl / time.Second)
	if secs < 1 {
		secs = 1
	}
	n, err := completeScript.Run(ctx, s.rdb, []string{s.outcomeKey(orderCode)},
		token, strconv.FormatUint(reservationID, 10), secs).Int()
	if err != nil {
		return fmt.Errorf("complete outcome %s: %w", orderCode, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrClaimLost, orderCode)
	}
	return nil
}

func (s *RedisStatusStore) ReleaseOutcome(ctx context.Context, orderCode, token string) error {
	if err := releaseScript.Run(ctx, s.rdb, []string{s.outcomeKey(orderCode)}, token).Err(); err != nil {
		return fmt.Errorf("release outcome %s: %w", orderCode, err)
	}
	return nil
}

func (s *RedisStatusStore) Outcome(ctx context.Context, orderCode string) (Outcome, error) {
	v, err := s.rdb.Get(ctx, s.outcomeKey(orderCode)).Result()
	if errors.Is(err, redis.Nil) {
		return Outcome{State: OutcomeNone}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("read outcome %s: %w", orderCode, err)
	}
	return parseOutcome(v)
}

func parseOutcome(v string) (Outcome, error) {
	if strings.HasPrefix(v, claimPrefix) {
		return Outcome{State: OutcomeClaimed}, nil
	}
	id, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return Outcome{}, fmt.Errorf("outcome value %q: %w", v, err)
	}
	return Outcome{State: OutcomeDone, ReservationID: id}, nil
}

func (s *RedisStatusStore) StampPollStart(ctx context.Context, orderCode string, now time.Time, ttl time.Duration) (time.Time, error) {
	key := s.pollKey(orderCode)
	ms := now.UnixMilli()
	ok, err := s.rdb.SetNX(ctx, key, ms, ttl).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("stamp poll %s: %w", orderCode, err)
	}
	if ok {
		return time.UnixMilli(ms).UTC(), nil
	}
	stored, err := s.rdb.Get(ctx, key).Int64()
	if err != nil {
		return time.Time{}, fmt.Errorf("read poll stamp %s: %w", orderCode, err)
	}
	return time.UnixMilli(stored).UTC(), nil
}
