package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/gatekeeper/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewRedisClient returns nil when REDIS_ADDR is unset; consumers fall back to
// their in-process implementations.
func NewRedisClient(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*redis.Client, error) {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		if cfg.PermissionCacheBackend == config.CacheBackendRedis || cfg.RateLimitBackend == config.CacheBackendRedis {
			return nil, fmt.Errorf("redis backend selected but REDIS_ADDR is empty")
		}
		return nil, nil
	}
	log = log.Named("redis")

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_, err := backoff.Retry(ctx, func() (string, error) {
		return client.Ping(ctx).Result()
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(5),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn("redis not ready, retrying", zap.Error(err), zap.Duration("next", next))
		}),
	)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return client.Close()
			},
		})
	}

	log.Info("redis connected", zap.String("addr", addr), zap.Int("db", cfg.RedisDB))
	return client, nil
}
