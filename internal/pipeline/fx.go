package pipeline

import (
	auditdomain "github.com/smallbiznis/gatekeeper/internal/audit/domain"
	"github.com/smallbiznis/gatekeeper/internal/authorization"
	"github.com/smallbiznis/gatekeeper/internal/clock"
	"github.com/smallbiznis/gatekeeper/internal/config"
	obsmetrics "github.com/smallbiznis/gatekeeper/internal/observability/metrics"
	"github.com/smallbiznis/gatekeeper/internal/oauth/token"
	"github.com/smallbiznis/gatekeeper/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("pipeline",
	fx.Provide(func(v *token.Validator) AccessTokenValidator { return v }),
	fx.Provide(NewChains),
)

type Params struct {
	fx.In

	Config     config.Config
	Limiter    ratelimit.Limiter
	Policy     *config.PolicyHolder
	Validator  AccessTokenValidator
	Resolver   token.PermissionResolver
	Authorizer *authorization.Authorizer
	Audit      auditdomain.Emitter
	Clock      clock.Clock
	Log        *zap.Logger
	Metrics    *obsmetrics.Metrics `optional:"true"`
}

// Chains are the request pipelines composed once at startup.
type Chains struct {
	// Public guards endpoints that authenticate the caller themselves.
	Public *Chain
	// Bearer requires a valid access token.
	Bearer *Chain
	// Admin additionally requires a route permission.
	Admin *Chain
}

func NewChains(p Params) *Chains {
	rateLimit := NewRateLimit(p.Limiter, p.Policy, p.Config.RateLimitEnabled, p.Metrics, p.Log)
	authenticate := NewAuthenticate(p.Validator, p.Log)
	authorize := NewAuthorize(p.Authorizer, p.Resolver, p.Log)
	audit := NewAudit(p.Audit, p.Clock, p.Log)

	return &Chains{
		Public: NewChain(p.Clock, WriteOAuthError, []Stage{rateLimit}, audit),
		Bearer: NewChain(p.Clock, WriteOAuthError, []Stage{rateLimit, authenticate}, audit),
		Admin:  NewChain(p.Clock, WriteAPIError, []Stage{rateLimit, authenticate, authorize}, audit),
	}
}
