package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/gatekeeper/internal/clock"
	"github.com/smallbiznis/gatekeeper/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestMemoryLimiterBurstThenRefill(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	limiter, err := NewMemoryLimiter(16, clk)
	require.NoError(t, err)

	ctx := context.Background()
	key := SourceKey("10.0.0.1")
	for i := 0; i < 3; i++ {
		res, err := limiter.Allow(ctx, key, 1, 3)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d within burst", i)
	}

	res, err := limiter.Allow(ctx, key, 1, 3)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 3, res.Limit)
	assert.Equal(t, 0, res.Remaining)
	assert.Greater(t, res.RetryAfter, time.Duration(0))

	other, err := limiter.Allow(ctx, SourceKey("10.0.0.2"), 1, 3)
	require.NoError(t, err)
	assert.True(t, other.Allowed, "keys are independent")

	clk.Advance(time.Second)
	res, err = limiter.Allow(ctx, key, 1, 3)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestMemoryLimiterAtomicUnderConcurrency(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	limiter, err := NewMemoryLimiter(16, clk)
	require.NoError(t, err)

	var allowed int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := limiter.Allow(context.Background(), "k", 1, 10)
			if err == nil && res.Allowed {
				atomic.AddInt64(&allowed, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(10), allowed)
}

func TestMemoryLimiterRejectsBadInput(t *testing.T) {
	limiter, err := NewMemoryLimiter(0, nil)
	require.NoError(t, err)
	_, err = limiter.Allow(context.Background(), "", 1, 1)
	assert.Error(t, err)
	_, err = limiter.Allow(context.Background(), "k", 0, 1)
	assert.Error(t, err)
}

func TestTokenBucketRedis(t *testing.T) {
	mr, client := newRedis(t)
	bucket := NewTokenBucket(client)

	ctx := context.Background()
	key := SourceKey("192.0.2.7")
	for i := 0; i < 2; i++ {
		res, err := bucket.Allow(ctx, key, 0.5, 2)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	res, err := bucket.Allow(ctx, key, 0.5, 2)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 2, res.Limit)
	assert.Equal(t, 0, res.Remaining)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, res.RetryAfter, 2*time.Second)
	assert.Equal(t, 8*time.Second, mr.TTL(key))
}

func TestNewLimiterSelectsBackend(t *testing.T) {
	_, client := newRedis(t)

	l, err := NewLimiter(config.Config{RateLimitBackend: config.CacheBackendRedis}, client, clock.New(), zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &TokenBucket{}, l)

	_, err = NewLimiter(config.Config{RateLimitBackend: config.CacheBackendRedis}, nil, clock.New(), zap.NewNop())
	assert.Error(t, err)

	l, err = NewLimiter(config.Config{RateLimitBackend: config.CacheBackendMemory}, nil, clock.New(), zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &MemoryLimiter{}, l)
}

func TestLockerLeaseIsExclusive(t *testing.T) {
	mr, client := newRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	lease, err := locker.Acquire(ctx, "gatekeeper:janitor", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "gatekeeper:janitor", lease.Key())

	_, err = locker.Acquire(ctx, "gatekeeper:janitor", time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld)

	holder, err := locker.Holder(ctx, "gatekeeper:janitor")
	require.NoError(t, err)
	assert.NotEmpty(t, holder)

	require.NoError(t, lease.Extend(ctx, 5*time.Minute))
	assert.Equal(t, 5*time.Minute, mr.TTL("gatekeeper:janitor"))

	require.NoError(t, lease.Release(ctx))
	holder, err = locker.Holder(ctx, "gatekeeper:janitor")
	require.NoError(t, err)
	assert.Empty(t, holder)

	_, err = locker.Acquire(ctx, "gatekeeper:janitor", time.Minute)
	require.NoError(t, err)
}

func TestLeaseCannotTouchAnotherOwnersLock(t *testing.T) {
	mr, client := newRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	lease, err := locker.Acquire(ctx, "gatekeeper:janitor", time.Minute)
	require.NoError(t, err)

	// The lease expires and another replica takes the key.
	mr.FastForward(2 * time.Minute)
	other, err := locker.Acquire(ctx, "gatekeeper:janitor", time.Minute)
	require.NoError(t, err)

	assert.ErrorIs(t, lease.Release(ctx), ErrLockLost)
	assert.ErrorIs(t, lease.Extend(ctx, time.Minute), ErrLockLost)
	assert.True(t, mr.Exists("gatekeeper:janitor"))

	require.NoError(t, other.Release(ctx))
}

func TestAcquireValidatesArguments(t *testing.T) {
	_, client := newRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	_, err := locker.Acquire(ctx, "", time.Minute)
	assert.Error(t, err)
	_, err = locker.Acquire(ctx, "k", 0)
	assert.Error(t, err)
	assert.Nil(t, NewLocker(nil))
}
