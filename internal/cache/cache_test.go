package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/smallbiznis/gatekeeper/internal/clock"
	"github.com/smallbiznis/gatekeeper/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTTLCacheLazyExpiry(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	c := NewTTLCacheWithClock[string, []string](clk)

	c.Set("u1", []string{"users:read"}, time.Minute)
	got, ok := c.Get("u1")
	require.True(t, ok)
	assert.Equal(t, []string{"users:read"}, got)

	clk.Advance(59 * time.Second)
	_, ok = c.Get("u1")
	assert.True(t, ok)
	assert.Equal(t, 1, c.Len())

	clk.Advance(time.Second)
	_, ok = c.Get("u1")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "expired entry is dropped on read")
}

func TestTTLCacheDeleteAndNonPositiveTTL(t *testing.T) {
	c := NewTTLCache[int, string]()
	c.Set(1, "a", time.Minute)
	c.Set(2, "b", time.Minute)
	c.Delete(1)

	_, ok := c.Get(1)
	assert.False(t, ok)
	v, ok := c.Get(2)
	assert.True(t, ok)
	assert.Equal(t, "b", v)

	c.Set(2, "c", 0)
	_, ok = c.Get(2)
	assert.False(t, ok)
}

func TestTTLCacheConcurrentAccess(t *testing.T) {
	c := NewTTLCache[int, int]()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				c.Set(i, j, time.Minute)
				c.Get(i)
				if j%10 == 0 {
					c.Delete(i)
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestNewRedisClient(t *testing.T) {
	client, err := NewRedisClient(nil, config.Config{}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, client)

	_, err = NewRedisClient(nil, config.Config{PermissionCacheBackend: config.CacheBackendRedis}, zap.NewNop())
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	client, err = NewRedisClient(nil, config.Config{RedisAddr: mr.Addr()}, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, client)
	t.Cleanup(func() { _ = client.Close() })
}
