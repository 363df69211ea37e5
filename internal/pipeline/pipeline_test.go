package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/gatekeeper/internal/audit/domain"
	"github.com/smallbiznis/gatekeeper/internal/authorization"
	"github.com/smallbiznis/gatekeeper/internal/clock"
	"github.com/smallbiznis/gatekeeper/internal/config"
	"github.com/smallbiznis/gatekeeper/internal/oauth/token"
	"github.com/smallbiznis/gatekeeper/internal/ratelimit"
	"github.com/smallbiznis/gatekeeper/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type recordingEmitter struct {
	mu      sync.Mutex
	records []auditdomain.Record
}

func (e *recordingEmitter) Emit(_ context.Context, rec auditdomain.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.records = append(e.records, rec)
	return nil
}

func (e *recordingEmitter) last(t *testing.T) auditdomain.Record {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	require.NotEmpty(t, e.records)
	return e.records[len(e.records)-1]
}

func (e *recordingEmitter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.records)
}

type fakeValidator struct {
	tokens map[string]*token.Claims
	err    error
}

func (v *fakeValidator) ValidateAccessToken(_ context.Context, raw string) (*token.Claims, error) {
	if v.err != nil {
		return nil, v.err
	}
	claims, ok := v.tokens[raw]
	if !ok {
		return nil, token.ErrInactive
	}
	return claims, nil
}

type fakePermissions struct {
	mu    sync.Mutex
	perms map[snowflake.ID][]string
}

func (f *fakePermissions) Resolve(_ context.Context, userID snowflake.ID) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.perms[userID]...), nil
}

func (f *fakePermissions) set(userID snowflake.ID, perms ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.perms[userID] = perms
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string, float64, int) (*ratelimit.RateLimitResult, error) {
	return nil, errors.New("redis down")
}

// traceStage appends its name to a shared log and optionally halts.
type traceStage struct {
	name  string
	halt  bool
	trace *[]string
}

func (s traceStage) Name() string { return s.name }

func (s traceStage) Handle(st *State) Outcome {
	*s.trace = append(*s.trace, s.name)
	if s.halt {
		return st.Reject(s.name, http.StatusTeapot, "halted", "")
	}
	return Continue
}

type testEnv struct {
	engine      *gin.Engine
	clock       *clock.FakeClock
	audit       *recordingEmitter
	validator   *fakeValidator
	permissions *fakePermissions
	chains      *Chains
	calls       int
}

func newTestEnv(t *testing.T, limiter ratelimit.Limiter, burst int) *testEnv {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	enforcer, err := authorization.NewEnforcer(conn)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	if limiter == nil {
		limiter, err = ratelimit.NewMemoryLimiter(128, clk)
		require.NoError(t, err)
	}
	policy := config.DefaultSecurityPolicy()
	policy.RateLimit.RequestsPerSecond = 1
	policy.RateLimit.Burst = burst

	env := &testEnv{
		clock:       clk,
		audit:       &recordingEmitter{},
		validator:   &fakeValidator{tokens: map[string]*token.Claims{}},
		permissions: &fakePermissions{perms: map[snowflake.ID][]string{}},
	}
	env.chains = NewChains(Params{
		Config:     config.Config{RateLimitEnabled: true},
		Limiter:    limiter,
		Policy:     config.NewStaticPolicyHolder(policy),
		Validator:  env.validator,
		Resolver:   env.permissions,
		Authorizer: authorization.NewAuthorizer(enforcer, zap.NewNop()),
		Audit:      env.audit,
		Clock:      clk,
		Log:        zap.NewNop(),
	})
	handler := func(c *gin.Context) {
		env.calls++
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.POST("/oauth/token", env.chains.Public.Handle(auditdomain.ActionTokenIssued, handler))
	r.GET("/oauth/userinfo", env.chains.Bearer.Handle(auditdomain.ActionUserInfo, handler))
	r.GET("/admin/users/:id/permissions", env.chains.Admin.Handle(auditdomain.ActionAdminRequest, handler))
	env.engine = r
	return env
}

func (e *testEnv) do(method, path, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "203.0.113.9:4000"
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func TestChainOrderAndShortCircuit(t *testing.T) {
	var trace []string
	chain := NewChain(clock.New(), nil,
		[]Stage{
			traceStage{name: "first", trace: &trace},
			traceStage{name: "second", halt: true, trace: &trace},
			traceStage{name: "third", trace: &trace},
		},
		traceStage{name: "after", trace: &trace},
	)
	assert.Equal(t, []string{"first", "second", "third", "handler", "after"}, chain.Stages())

	called := false
	r := gin.New()
	r.GET("/x", chain.Handle("test", func(c *gin.Context) { called = true }))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.False(t, called)
	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, []string{"first", "second", "after"}, trace)
	assert.JSONEq(t, `{"error":{"type":"halted","message":"I'm a teapot"}}`, w.Body.String())
}

func TestRateLimitRejectsAndStillAudits(t *testing.T) {
	env := newTestEnv(t, nil, 2)

	for i := 0; i < 2; i++ {
		w := env.do(http.MethodPost, "/oauth/token", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	}

	w := env.do(http.MethodPost, "/oauth/token", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.JSONEq(t, `{"error":"too_many_requests","error_description":"rate limit exceeded"}`, w.Body.String())
	assert.Equal(t, 2, env.calls)

	rec := env.audit.last(t)
	assert.Equal(t, auditdomain.ActionRateLimited, rec.Action)
	assert.Equal(t, auditdomain.OutcomeDenied, rec.Outcome)
	assert.Equal(t, auditdomain.ActorTypeAnonymous, rec.ActorType)
	assert.Equal(t, auditdomain.ActionTokenIssued, rec.Details["attempted_action"])
	assert.Equal(t, "203.0.113.9", rec.SourceIP)
	assert.Equal(t, 3, env.audit.count())

	env.clock.Advance(time.Second)
	assert.Equal(t, http.StatusOK, env.do(http.MethodPost, "/oauth/token", "").Code)
}

func TestRateLimiterFailureFailsOpen(t *testing.T) {
	env := newTestEnv(t, failingLimiter{}, 1)
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, env.do(http.MethodPost, "/oauth/token", "").Code)
	}
}

func TestAuthenticateRejectsMissingAndInactiveTokens(t *testing.T) {
	env := newTestEnv(t, nil, 100)

	w := env.do(http.MethodGet, "/oauth/userinfo", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Bearer")

	w = env.do(http.MethodGet, "/oauth/userinfo", "revoked-or-expired")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Header().Get("WWW-Authenticate"), `error="invalid_token"`)
	assert.Equal(t, 0, env.calls)

	rec := env.audit.last(t)
	assert.Equal(t, auditdomain.ActionAuthenticationFail, rec.Action)
	assert.Equal(t, StageAuthenticate, rec.Details["rejected_by"])

	env.validator.tokens["good"] = &token.Claims{Subject: "7", UserID: 7, ClientID: "c1", JTI: "j1"}
	w = env.do(http.MethodGet, "/oauth/userinfo", "good")
	assert.Equal(t, http.StatusOK, w.Code)
	rec = env.audit.last(t)
	assert.Equal(t, auditdomain.ActionUserInfo, rec.Action)
	assert.Equal(t, auditdomain.ActorTypeUser, rec.ActorType)
	assert.Equal(t, "7", rec.ActorID)
	assert.Equal(t, auditdomain.OutcomeSuccess, rec.Outcome)
}

func TestAuthenticateStorageFailureIsServerError(t *testing.T) {
	env := newTestEnv(t, nil, 100)
	env.validator.err = errors.New("db timeout")

	w := env.do(http.MethodGet, "/oauth/userinfo", "anything")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, auditdomain.OutcomeFailure, env.audit.last(t).Outcome)
}

func TestAuthorizeUsesCurrentPermissions(t *testing.T) {
	env := newTestEnv(t, nil, 100)
	// The token snapshot claims rbac:read; only resolved permissions count.
	env.validator.tokens["admin"] = &token.Claims{Subject: "9", UserID: 9, Permissions: []string{"rbac:read"}}

	w := env.do(http.MethodGet, "/admin/users/9/permissions", "admin")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.JSONEq(t, `{"error":{"type":"forbidden","message":"Forbidden"}}`, w.Body.String())
	rec := env.audit.last(t)
	assert.Equal(t, auditdomain.ActionAuthorizationFail, rec.Action)
	assert.Equal(t, []string{"rbac:read"}, rec.Details["required_permissions"])

	env.permissions.set(9, "rbac:read")
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/admin/users/9/permissions", "admin").Code)

	env.permissions.set(9)
	assert.Equal(t, http.StatusForbidden, env.do(http.MethodGet, "/admin/users/9/permissions", "admin").Code)
	assert.Equal(t, 1, env.calls)
}

func TestClientPrincipalHasNoAdminPermissions(t *testing.T) {
	env := newTestEnv(t, nil, 100)
	env.validator.tokens["svc"] = &token.Claims{Subject: "svc", ClientID: "svc", Scopes: []string{"rbac:read"}}

	w := env.do(http.MethodGet, "/admin/users/1/permissions", "svc")
	assert.Equal(t, http.StatusForbidden, w.Code)
	rec := env.audit.last(t)
	assert.Equal(t, auditdomain.ActorTypeClient, rec.ActorType)
	assert.Equal(t, "svc", rec.ActorID)
}

func TestAuditRunsWhenHandlerPanics(t *testing.T) {
	audit := &recordingEmitter{}
	clk := clock.NewFakeClock(time.Now())
	var trace []string
	chain := NewChain(clk, nil, nil, NewAudit(audit, clk, zap.NewNop()), traceStage{name: "after", trace: &trace})
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/boom", chain.Handle("boom", func(*gin.Context) { panic("boom") }))
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, rw.Code)
	assert.Equal(t, []string{"after"}, trace)
	rec := audit.last(t)
	assert.Equal(t, "boom", rec.Action)
	assert.Equal(t, auditdomain.OutcomeFailure, rec.Outcome)
}

func TestHandlerCanNamePrincipalAndTarget(t *testing.T) {
	audit := &recordingEmitter{}
	clk := clock.NewFakeClock(time.Now())
	chain := NewChain(clk, WriteOAuthError, nil, NewAudit(audit, clk, zap.NewNop()))

	r := gin.New()
	r.POST("/oauth/revoke", chain.Handle(auditdomain.ActionRevoke, func(c *gin.Context) {
		SetPrincipal(c, &Principal{ClientID: "c1"})
		SetTarget(c, "token", "refresh_token")
		AddDetail(c, "token_type_hint", "refresh_token")
		clk.Advance(15 * time.Millisecond)
		c.Status(http.StatusOK)
	}))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/oauth/revoke", nil))
	require.Equal(t, http.StatusOK, w.Code)

	rec := audit.last(t)
	assert.Equal(t, auditdomain.ActorTypeClient, rec.ActorType)
	assert.Equal(t, "c1", rec.ActorID)
	assert.Equal(t, "token", rec.TargetType)
	assert.Equal(t, "refresh_token", rec.Details["token_type_hint"])
	assert.Equal(t, "/oauth/revoke", rec.Details["route"])
	assert.Equal(t, 15*time.Millisecond, rec.Duration)
}

func TestBearerToken(t *testing.T) {
	raw, ok := BearerToken("Bearer abc.def")
	assert.True(t, ok)
	assert.Equal(t, "abc.def", raw)

	raw, ok = BearerToken("bearer   xyz ")
	assert.True(t, ok)
	assert.Equal(t, "xyz", raw)

	for _, h := range []string{"", "Bearer", "Bearer   ", "Basic abc", "Token abc"} {
		_, ok := BearerToken(h)
		assert.False(t, ok, h)
	}
}
