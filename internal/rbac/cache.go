package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/gatekeeper/internal/cache"
	"github.com/smallbiznis/gatekeeper/internal/clock"
	"github.com/smallbiznis/gatekeeper/internal/config"
	"go.uber.org/zap"
)

const keyPermissions = "gatekeeper:perm:%d"

// PermissionCache holds resolved permission sets keyed by user.
type PermissionCache interface {
	Get(ctx context.Context, userID snowflake.ID) ([]string, bool)
	Put(ctx context.Context, userID snowflake.ID, perms []string, ttl time.Duration)
	Invalidate(ctx context.Context, userID snowflake.ID) error
}

// NewPermissionCache selects the backend named by PERMISSION_CACHE_BACKEND.
func NewPermissionCache(cfg config.Config, client *redis.Client, clk clock.Clock, log *zap.Logger) (PermissionCache, error) {
	log = log.Named("rbac.cache")
	if cfg.PermissionCacheBackend == config.CacheBackendRedis {
		if client == nil {
			return nil, errors.New("permission cache backend redis requires REDIS_ADDR")
		}
		log.Info("permission cache using redis")
		return NewRedisCache(client, log), nil
	}
	log.Info("permission cache using process memory")
	return NewMemoryCache(clk), nil
}

type memoryCache struct {
	entries *cache.TTLCache[snowflake.ID, []string]
}

func NewMemoryCache(clk clock.Clock) PermissionCache {
	return &memoryCache{entries: cache.NewTTLCacheWithClock[snowflake.ID, []string](clk)}
}

func (m *memoryCache) Get(_ context.Context, userID snowflake.ID) ([]string, bool) {
	perms, ok := m.entries.Get(userID)
	if !ok {
		return nil, false
	}
	return clone(perms), true
}

func (m *memoryCache) Put(_ context.Context, userID snowflake.ID, perms []string, ttl time.Duration) {
	m.entries.Set(userID, clone(perms), ttl)
}

func (m *memoryCache) Invalidate(_ context.Context, userID snowflake.ID) error {
	m.entries.Delete(userID)
	return nil
}

// redisCache shares entries between replicas. Read and write failures
// degrade to a miss; only a failed invalidation is reported.
type redisCache struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedisCache(client *redis.Client, log *zap.Logger) PermissionCache {
	return &redisCache{client: client, log: log}
}

func (r *redisCache) Get(ctx context.Context, userID snowflake.ID) ([]string, bool) {
	raw, err := r.client.Get(ctx, redisKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		r.log.Warn("permission cache read failed", zap.Error(err))
		return nil, false
	}
	var perms []string
	if err := json.Unmarshal(raw, &perms); err != nil {
		r.log.Warn("permission cache entry corrupt", zap.String("user_id", userID.String()), zap.Error(err))
		return nil, false
	}
	if perms == nil {
		perms = []string{}
	}
	return perms, true
}

func (r *redisCache) Put(ctx context.Context, userID snowflake.ID, perms []string, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if perms == nil {
		perms = []string{}
	}
	raw, err := json.Marshal(perms)
	if err != nil {
		return
	}
	if err := r.client.Set(ctx, redisKey(userID), raw, ttl).Err(); err != nil {
		r.log.Warn("permission cache write failed", zap.Error(err))
	}
}

func (r *redisCache) Invalidate(ctx context.Context, userID snowflake.ID) error {
	if err := r.client.Del(ctx, redisKey(userID)).Err(); err != nil {
		return fmt.Errorf("invalidate permissions: %w", err)
	}
	return nil
}

func redisKey(userID snowflake.ID) string {
	return fmt.Sprintf(keyPermissions, int64(userID))
}

func clone(perms []string) []string {
	out := make([]string, len(perms))
	copy(out, perms)
	return out
}
