package pipeline

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/gatekeeper/internal/audit/domain"
	"github.com/smallbiznis/gatekeeper/internal/authorization"
	"github.com/smallbiznis/gatekeeper/internal/clock"
	"github.com/smallbiznis/gatekeeper/internal/config"
	obscontext "github.com/smallbiznis/gatekeeper/internal/observability/context"
	obsmetrics "github.com/smallbiznis/gatekeeper/internal/observability/metrics"
	"github.com/smallbiznis/gatekeeper/internal/oauth/token"
	"github.com/smallbiznis/gatekeeper/internal/ratelimit"
	"go.uber.org/zap"
)

const (
	StageRateLimit    = "rate_limit"
	StageAuthenticate = "authenticate"
	StageAuthorize    = "authorize"
	StageAudit        = "audit"
)

// RateLimit admits requests per source address. A limiter failure lets the
// request through.
type RateLimit struct {
	limiter ratelimit.Limiter
	policy  *config.PolicyHolder
	enabled bool
	metrics *obsmetrics.Metrics
	log     *zap.Logger
}

func NewRateLimit(limiter ratelimit.Limiter, policy *config.PolicyHolder, enabled bool, metrics *obsmetrics.Metrics, log *zap.Logger) *RateLimit {
	return &RateLimit{
		limiter: limiter,
		policy:  policy,
		enabled: enabled,
		metrics: metrics,
		log:     log.Named("pipeline.ratelimit"),
	}
}

func (r *RateLimit) Name() string { return StageRateLimit }

func (r *RateLimit) Handle(st *State) Outcome {
	if !r.enabled || r.limiter == nil {
		return Continue
	}
	c := st.Context
	ctx := c.Request.Context()
	route := routeOf(c)
	policy := r.policy.Get().RateLimit

	res, err := r.limiter.Allow(ctx, ratelimit.SourceKey(c.ClientIP()), policy.RequestsPerSecond, policy.Burst)
	if err != nil || res == nil {
		r.log.Warn("rate limiter unavailable, admitting request", zap.String("route", route), zap.Error(err))
		return Continue
	}

	c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	if !res.Allowed {
		retry := int(math.Ceil(res.RetryAfter.Seconds()))
		if retry < 1 {
			retry = 1
		}
		c.Header("Retry-After", strconv.Itoa(retry))
		r.metrics.RecordRateLimitDenied(ctx, route, "limit")
		return st.Reject(r.Name(), http.StatusTooManyRequests, "too_many_requests", "rate limit exceeded")
	}
	r.metrics.RecordRateLimitAllowed(ctx, route)
	return Continue
}

// AccessTokenValidator validates bearer access tokens.
type AccessTokenValidator interface {
	ValidateAccessToken(ctx context.Context, raw string) (*token.Claims, error)
}

// Authenticate resolves the bearer token into the request principal.
type Authenticate struct {
	validator AccessTokenValidator
	log       *zap.Logger
}

func NewAuthenticate(validator AccessTokenValidator, log *zap.Logger) *Authenticate {
	return &Authenticate{validator: validator, log: log.Named("pipeline.authenticate")}
}

func (a *Authenticate) Name() string { return StageAuthenticate }

func (a *Authenticate) Handle(st *State) Outcome {
	c := st.Context
	raw, ok := BearerToken(c.GetHeader("Authorization"))
	if !ok {
		c.Header("WWW-Authenticate", `Bearer realm="gatekeeper"`)
		return st.Reject(a.Name(), http.StatusUnauthorized, "invalid_token", "bearer token required")
	}

	claims, err := a.validator.ValidateAccessToken(c.Request.Context(), raw)
	if err != nil {
		if errors.Is(err, token.ErrInactive) {
			c.Header("WWW-Authenticate", `Bearer realm="gatekeeper", error="invalid_token"`)
			return st.Reject(a.Name(), http.StatusUnauthorized, "invalid_token", "token is not active")
		}
		a.log.Error("bearer validation failed", zap.Error(err))
		return st.Reject(a.Name(), http.StatusInternalServerError, "server_error", "")
	}

	st.Principal = &Principal{
		Subject:     claims.Subject,
		UserID:      claims.UserID,
		ClientID:    claims.ClientID,
		Scopes:      claims.Scopes,
		Permissions: claims.Permissions,
		TokenID:     claims.JTI,
	}
	actorType, actorID := actorOf(st.Principal)
	ctx := obscontext.WithActor(c.Request.Context(), string(actorType), actorID)
	c.Request = c.Request.WithContext(ctx)
	return Continue
}

// PermissionSource yields a user's current permissions.
type PermissionSource interface {
	Resolve(ctx context.Context, userID snowflake.ID) ([]string, error)
}

// Authorize checks the principal's current permissions against the route
// table. The permissions embedded in the token are not consulted, so a
// revoked role takes effect as soon as the cache entry is invalidated.
type Authorize struct {
	authorizer  *authorization.Authorizer
	permissions PermissionSource
	log         *zap.Logger
}

func NewAuthorize(authorizer *authorization.Authorizer, permissions PermissionSource, log *zap.Logger) *Authorize {
	return &Authorize{
		authorizer:  authorizer,
		permissions: permissions,
		log:         log.Named("pipeline.authorize"),
	}
}

func (a *Authorize) Name() string { return StageAuthorize }

func (a *Authorize) Handle(st *State) Outcome {
	c := st.Context
	p := st.Principal
	if p == nil {
		return st.Reject(a.Name(), http.StatusUnauthorized, "unauthorized", "")
	}

	var granted []string
	if p.IsUser() {
		perms, err := a.permissions.Resolve(c.Request.Context(), p.UserID)
		if err != nil {
			a.log.Error("resolve permissions failed", zap.String("user_id", p.UserID.String()), zap.Error(err))
			return st.Reject(a.Name(), http.StatusInternalServerError, "internal_error", "")
		}
		granted = perms
	}
	p.Permissions = granted

	path := c.Request.URL.Path
	ok, err := a.authorizer.Authorize(granted, path, c.Request.Method)
	if err != nil {
		a.log.Error("authorization check failed", zap.Error(err))
		return st.Reject(a.Name(), http.StatusInternalServerError, "internal_error", "")
	}
	if !ok {
		st.AddDetail("required_permissions", a.authorizer.Required(path, c.Request.Method))
		return st.Reject(a.Name(), http.StatusForbidden, "forbidden", "")
	}
	return Continue
}

// Audit records one event per request after everything else has run.
type Audit struct {
	emitter auditdomain.Emitter
	clock   clock.Clock
	log     *zap.Logger
}

func NewAudit(emitter auditdomain.Emitter, clk clock.Clock, log *zap.Logger) *Audit {
	return &Audit{emitter: emitter, clock: clk, log: log.Named("pipeline.audit")}
}

func (a *Audit) Name() string { return StageAudit }

func (a *Audit) Handle(st *State) Outcome {
	if a.emitter == nil {
		return Continue
	}
	c := st.Context
	status := c.Writer.Status()
	if st.Panicked {
		status = http.StatusInternalServerError
	}

	action := st.Action
	outcome := auditdomain.OutcomeSuccess
	details := map[string]any{
		"method": c.Request.Method,
		"route":  routeOf(c),
		"status": status,
	}
	for k, v := range st.details {
		details[k] = v
	}

	switch {
	case st.Rejection != nil:
		outcome = auditdomain.OutcomeDenied
		details["rejected_by"] = st.Rejection.Stage
		details["attempted_action"] = st.Action
		action = rejectionAction(st.Rejection.Stage, st.Action)
		if st.Rejection.Status >= http.StatusInternalServerError {
			outcome = auditdomain.OutcomeFailure
		}
	case st.Panicked, status >= http.StatusBadRequest:
		outcome = auditdomain.OutcomeFailure
	}
	if code := strings.TrimSpace(c.GetString("oauth_error")); code != "" {
		details["error"] = code
	}

	actorType, actorID := actorOf(st.Principal)
	rec := auditdomain.Record{
		ActorType:  actorType,
		ActorID:    actorID,
		Action:     action,
		Outcome:    outcome,
		TargetType: st.targetType,
		TargetID:   st.targetID,
		SourceIP:   c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
		Duration:   a.clock.Now().Sub(st.StartedAt),
		Details:    details,
		OccurredAt: a.clock.Now(),
	}
	if err := a.emitter.Emit(c.Request.Context(), rec); err != nil {
		a.log.Warn("audit emit failed", zap.String("action", action), zap.Error(err))
	}
	return Continue
}

func rejectionAction(stage, fallback string) string {
	switch stage {
	case StageRateLimit:
		return auditdomain.ActionRateLimited
	case StageAuthenticate:
		return auditdomain.ActionAuthenticationFail
	case StageAuthorize:
		return auditdomain.ActionAuthorizationFail
	default:
		return fallback
	}
}

func actorOf(p *Principal) (auditdomain.ActorType, string) {
	switch {
	case p == nil:
		return auditdomain.ActorTypeAnonymous, ""
	case p.IsUser():
		return auditdomain.ActorTypeUser, p.UserID.String()
	case p.ClientID != "":
		return auditdomain.ActorTypeClient, p.ClientID
	default:
		return auditdomain.ActorTypeAnonymous, ""
	}
}

// BearerToken extracts the credential from an Authorization header value.
func BearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return "", false
	}
	raw := strings.TrimSpace(header[7:])
	if raw == "" {
		return "", false
	}
	return raw, true
}

func routeOf(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unknown"
}
