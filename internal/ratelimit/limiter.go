package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/gatekeeper/internal/clock"
	"github.com/smallbiznis/gatekeeper/internal/config"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	keySourceAddress = "gatekeeper:ratelimit:addr:%s"

	defaultMemoryKeys = 10000
)

// Limiter admits or rejects one request for a key.
type Limiter interface {
	Allow(ctx context.Context, key string, rate float64, burst int) (*RateLimitResult, error)
}

// SourceKey builds the bucket key for a client address.
func SourceKey(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		addr = "unknown"
	}
	return fmt.Sprintf(keySourceAddress, addr)
}

// NewLimiter selects the redis token bucket when configured, otherwise an
// in-process limiter.
func NewLimiter(cfg config.Config, client *redis.Client, clk clock.Clock, log *zap.Logger) (Limiter, error) {
	log = log.Named("ratelimit")
	if cfg.RateLimitBackend == config.CacheBackendRedis {
		if client == nil {
			return nil, errors.New("rate limit backend redis requires REDIS_ADDR")
		}
		log.Info("rate limiter using redis token bucket")
		return NewTokenBucket(client), nil
	}
	log.Info("rate limiter using in-process buckets", zap.Int("max_keys", defaultMemoryKeys))
	return NewMemoryLimiter(defaultMemoryKeys, clk)
}

// MemoryLimiter keeps one token bucket per key in a bounded LRU. Evicted keys
// start again with a full bucket.
type MemoryLimiter struct {
	buckets *lru.Cache[string, *rate.Limiter]
	clock   clock.Clock
}

func NewMemoryLimiter(size int, clk clock.Clock) (*MemoryLimiter, error) {
	if size <= 0 {
		size = defaultMemoryKeys
	}
	if clk == nil {
		clk = clock.New()
	}
	buckets, err := lru.New[string, *rate.Limiter](size)
	if err != nil {
		return nil, err
	}
	return &MemoryLimiter{buckets: buckets, clock: clk}, nil
}

func (m *MemoryLimiter) Allow(_ context.Context, key string, r float64, burst int) (*RateLimitResult, error) {
	if err := validateBucket(key, r, burst); err != nil {
		return &RateLimitResult{}, err
	}

	now := m.clock.Now()
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	if existing, ok, _ := m.buckets.PeekOrAdd(key, limiter); ok {
		limiter = existing
		m.buckets.Get(key)
	}
	// Policy may have been hot-reloaded since the bucket was created.
	if limiter.Limit() != rate.Limit(r) {
		limiter.SetLimitAt(now, rate.Limit(r))
	}
	if limiter.Burst() != burst {
		limiter.SetBurstAt(now, burst)
	}

	allowed := limiter.AllowN(now, 1)
	return decide(allowed, limiter.TokensAt(now), r, burst, now), nil
}
