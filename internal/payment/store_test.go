package payment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/hotel-settlement/internal/apperr"
	"github.com/iliyamo/hotel-settlement/internal/model"
)

func newTestStore(t *testing.T) (*miniredis.Miniredis, *RedisStatusStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, NewRedisStatusStore(rdb, "test")
}

func pendingRecord(code string) *model.PaymentStatusRecord {
	return &model.PaymentStatusRecord{
		OrderCode:       code,
		Status:          model.SettlementPending,
		OriginalOrderID: "req-" + code,
		Amount:          2_500_000,
		Currency:        "VND",
		Description:     "Booking",
		CreatedAt:       time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestRedisStatusStore_SeedAndGet(t *testing.T) {
	mr, store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Seed(ctx, pendingRecord("1001"), 1800*time.Second))
	assert.Equal(t, 1800*time.Second, mr.TTL("test:payment:1001"))

	got, err := store.Get(ctx, "1001")
	require.NoError(t, err)
	assert.Equal(t, model.SettlementPending, got.Status)
	assert.Equal(t, "req-1001", got.OriginalOrderID)
	assert.Equal(t, int64(2_500_000), got.Amount)

	err = store.Seed(ctx, pendingRecord("1001"), time.Minute)
	assert.ErrorIs(t, err, apperr.ErrPreconditionFailed)

	_, err = store.Get(ctx, "404")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRedisStatusStore_MergeWritesOnlyOnChange(t *testing.T) {
	mr, store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Seed(ctx, pendingRecord("1002"), 1800*time.Second))

	rec, err := store.Merge(ctx, "1002", func(rec *model.PaymentStatusRecord) (time.Duration, bool, error) {
		rec.Status = model.SettlementSuccess
		return 3600 * time.Second, true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, model.SettlementSuccess, rec.Status)
	assert.Equal(t, 3600*time.Second, mr.TTL("test:payment:1002"))

	mr.FastForward(10 * time.Second)
	_, err = store.Merge(ctx, "1002", func(rec *model.PaymentStatusRecord) (time.Duration, bool, error) {
		return time.Minute, false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3590*time.Second, mr.TTL("test:payment:1002"))

	_, err = store.Merge(ctx, "404", func(*model.PaymentStatusRecord) (time.Duration, bool, error) {
		return time.Minute, true, nil
	})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRedisStatusStore_MergeNoLostUpdates(t *testing.T) {
	_, store := newTestStore(t)
	ctx := context.Background()
	rec := pendingRecord("1003")
	rec.Amount = 0
	require.NoError(t, store.Seed(ctx, rec, time.Hour))

	var (
		mu   sync.Mutex
		oks  int64
		wg   sync.WaitGroup
		incr = func(rec *model.PaymentStatusRecord) (time.Duration, bool, error) {
			rec.Amount++
			return time.Hour, true, nil
		}
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Merge(ctx, "1003", incr); err == nil {
				mu.Lock()
				oks++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	got, err := store.Get(ctx, "1003")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, oks, int64(1))
	assert.Equal(t, oks, got.Amount)
}

func TestRedisStatusStore_ClaimCompleteRelease(t *testing.T) {
	_, store := newTestStore(t)
	ctx := context.Background()

	out, err := store.Outcome(ctx, "2001")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNone, out.State)

	token, won, err := store.ClaimOutcome(ctx, "2001", time.Minute)
	require.NoError(t, err)
	require.True(t, won)

	_, won, err = store.ClaimOutcome(ctx, "2001", time.Minute)
	require.NoError(t, err)
	assert.False(t, won)

	out, err = store.Outcome(ctx, "2001")
	require.NoError(t, err)
	assert.Equal(t, OutcomeClaimed, out.State)

	err = store.CompleteOutcome(ctx, "2001", "claim:someone-else", 42, time.Hour)
	assert.ErrorIs(t, err, ErrClaimLost)

	require.NoError(t, store.CompleteOutcome(ctx, "2001", token, 42, time.Hour))
	out, err = store.Outcome(ctx, "2001")
	require.NoError(t, err)
	assert.Equal(t, Outcome{State: OutcomeDone, ReservationID: 42}, out)

	// A completed outcome cannot be released by the old token.
	require.NoError(t, store.ReleaseOutcome(ctx, "2001", token))
	out, err = store.Outcome(ctx, "2001")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDone, out.State)
}

func TestRedisStatusStore_ReleaseOnlyOwnClaim(t *testing.T) {
	_, store := newTestStore(t)
	ctx := context.Background()

	token, won, err := store.ClaimOutcome(ctx, "2002", time.Minute)
	require.NoError(t, err)
	require.True(t, won)

	require.NoError(t, store.ReleaseOutcome(ctx, "2002", "claim:other"))
	out, err := store.Outcome(ctx, "2002")
	require.NoError(t, err)
	assert.Equal(t, OutcomeClaimed, out.State)

	require.NoError(t, store.ReleaseOutcome(ctx, "2002", token))
	out, err = store.Outcome(ctx, "2002")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNone, out.State)

	_, won, err = store.ClaimOutcome(ctx, "2002", time.Minute)
	require.NoError(t, err)
	assert.True(t, won)
}

func TestRedisStatusStore_ClaimExpires(t *testing.T) {
	mr, store := newTestStore(t)
	ctx := context.Background()

	_, won, err := store.ClaimOutcome(ctx, "2003", 30*time.Second)
	require.NoError(t, err)
	require.True(t, won)

	mr.FastForward(31 * time.Second)
	_, won, err = store.ClaimOutcome(ctx, "2003", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, won)
}

func TestRedisStatusStore_StampPollStart(t *testing.T) {
	_, store := newTestStore(t)
	ctx := context.Background()
	first := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	got, err := store.StampPollStart(ctx, "3001", first, time.Hour)
	require.NoError(t, err)
	assert.True(t, first.Equal(got))

	got, err = store.StampPollStart(ctx, "3001", first.Add(45*time.Second), time.Hour)
	require.NoError(t, err)
	assert.True(t, first.Equal(got), "stamp moved to %v", got)
}
