package local

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	authdomain "github.com/smallbiznis/gatekeeper/internal/auth/domain"
	authrepository "github.com/smallbiznis/gatekeeper/internal/auth/repository"
	authservice "github.com/smallbiznis/gatekeeper/internal/auth/service"
	"github.com/smallbiznis/gatekeeper/internal/auth/session"
	"github.com/smallbiznis/gatekeeper/internal/clock"
	"github.com/smallbiznis/gatekeeper/internal/config"
	"github.com/smallbiznis/gatekeeper/internal/pipeline"
	"github.com/smallbiznis/gatekeeper/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testEnv struct {
	engine  *gin.Engine
	authsvc authdomain.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&authdomain.User{}, &authdomain.Session{}))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	repo, sessions := authrepository.New(conn, db.Config{})
	authsvc := authservice.New(authservice.Params{
		Log:         zap.NewNop(),
		Repo:        repo,
		SessionRepo: sessions,
		GenID:       node,
		Clock:       clk,
		Policy:      config.NewStaticPolicyHolder(config.DefaultSecurityPolicy()),
	})
	_, err = authsvc.CreateUser(context.Background(), authdomain.CreateUserRequest{
		Username: "alice",
		Password: "correct horse battery",
	})
	require.NoError(t, err)

	cfg := config.Config{}
	cfg.OAuth.Issuer = "https://auth.example.com"
	h := NewHandler(authsvc, session.NewManager(cfg, authsvc, clk), zap.NewNop(), cfg)

	r := gin.New()
	RegisterRoutes(r, h, &pipeline.Chains{Public: pipeline.NewChain(clk, pipeline.WriteOAuthError, nil)})
	return &testEnv{engine: r, authsvc: authsvc}
}

func (e *testEnv) login(form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, ck := range w.Result().Cookies() {
		if ck.Name == session.DefaultCookieName {
			return ck
		}
	}
	t.Fatalf("no %s cookie set", session.DefaultCookieName)
	return nil
}

func TestLoginJSONSetsSession(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"username":"Alice","password":"correct horse battery"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"username":"alice"`)
	ck := sessionCookie(t, w)
	assert.True(t, ck.HttpOnly)

	sess, err := env.authsvc.Authenticate(context.Background(), ck.Value)
	require.NoError(t, err)
	assert.NotZero(t, sess.UserID)
}

func TestLoginRedirectsOnlySameOrigin(t *testing.T) {
	env := newTestEnv(t)
	base := url.Values{"username": {"alice"}, "password": {"correct horse battery"}}

	cases := []struct {
		returnTo string
		want     string
	}{
		{"/oauth/authorize?client_id=c1&state=xyz", "/oauth/authorize?client_id=c1&state=xyz"},
		{"https://auth.example.com/oauth/authorize?x=1", "https://auth.example.com/oauth/authorize?x=1"},
		{"https://evil.example.net/phish", ""},
		{"//evil.example.net/phish", ""},
		{"/\\evil.example.net", ""},
		{"javascript:alert(1)", ""},
	}
	for _, tc := range cases {
		form := url.Values{}
		for k, v := range base {
			form[k] = v
		}
		form.Set("return_to", tc.returnTo)
		w := env.login(form)
		if tc.want == "" {
			assert.Equal(t, http.StatusOK, w.Code, tc.returnTo)
			continue
		}
		assert.Equal(t, http.StatusSeeOther, w.Code, tc.returnTo)
		assert.Equal(t, tc.want, w.Header().Get("Location"))
	}
}

func TestLoginFailures(t *testing.T) {
	env := newTestEnv(t)

	w := env.login(url.Values{"username": {"alice"}, "password": {"wrong password"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"invalid_credentials"}`, w.Body.String())
	assert.Empty(t, w.Result().Cookies())

	w = env.login(url.Values{"username": {"nobody"}, "password": {"correct horse battery"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"invalid_credentials"}`, w.Body.String())
}

func TestLogoutRevokesSession(t *testing.T) {
	env := newTestEnv(t)
	w := env.login(url.Values{"username": {"alice"}, "password": {"correct horse battery"}})
	require.Equal(t, http.StatusOK, w.Code)
	ck := sessionCookie(t, w)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(ck)
	w = httptest.NewRecorder()
	env.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, -1, sessionCookie(t, w).MaxAge)

	_, err := env.authsvc.Authenticate(context.Background(), ck.Value)
	assert.Error(t, err)

	w = httptest.NewRecorder()
	env.engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
