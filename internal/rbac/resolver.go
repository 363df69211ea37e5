package rbac

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gatekeeper/internal/config"
	obsmetrics "github.com/smallbiznis/gatekeeper/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultCacheTTL = 5 * time.Minute

type ResolverParams struct {
	fx.In

	Config  config.Config
	Store   Store
	Cache   PermissionCache
	Log     *zap.Logger
	Metrics *obsmetrics.Metrics `optional:"true"`
}

// Resolver answers "what may this user do" from the role graph, through the
// permission cache.
type Resolver struct {
	store   Store
	cache   PermissionCache
	ttl     time.Duration
	log     *zap.Logger
	metrics *obsmetrics.Metrics

	// generation advances on every invalidation. A resolution that started
	// before an invalidation does not write its result back.
	generation atomic.Uint64
}

func NewResolver(p ResolverParams) *Resolver {
	ttl := p.Config.PermissionCacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Resolver{
		store:   p.Store,
		cache:   p.Cache,
		ttl:     ttl,
		log:     p.Log.Named("rbac.resolver"),
		metrics: p.Metrics,
	}
}

// Resolve returns the user's current permission names. The slice is owned by
// the caller.
func (r *Resolver) Resolve(ctx context.Context, userID snowflake.ID) ([]string, error) {
	if perms, ok := r.cache.Get(ctx, userID); ok {
		r.metrics.RecordPermissionCache(ctx, "hit")
		return perms, nil
	}
	r.metrics.RecordPermissionCache(ctx, "miss")

	gen := r.generation.Load()
	perms, err := r.store.ResolvePermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	if r.generation.Load() == gen {
		r.cache.Put(ctx, userID, perms, r.ttl)
	}
	return clone(perms), nil
}

// Invalidate drops the user's cached entry so the next Resolve reads the
// store.
func (r *Resolver) Invalidate(ctx context.Context, userID snowflake.ID) error {
	r.generation.Add(1)
	if err := r.cache.Invalidate(ctx, userID); err != nil {
		r.log.Error("permission cache invalidation failed",
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
		return err
	}
	r.metrics.RecordPermissionCache(ctx, "invalidate")
	return nil
}
