package logger

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	obscontext "github.com/smallbiznis/gatekeeper/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithContextAddsCorrelationFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	ctx := obscontext.WithRequestID(context.Background(), "req-1")
	ctx = obscontext.WithActor(ctx, "user", "42")

	WithContext(ctx, base).Info("hello")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "user", fields["actor_type"])
	assert.Equal(t, "42", fields["actor_id"])
	assert.Equal(t, "", fields["trace_id"])
}

func TestWithContextOmitsAnonymousActor(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	WithContext(context.Background(), zap.New(core)).Info("hello")

	fields := logs.All()[0].ContextMap()
	_, ok := fields["actor_type"]
	assert.False(t, ok)
}

func TestDescribeStatementOperationAndTable(t *testing.T) {
	stmt := describeStatement(`UPDATE "oauth_authorization_codes" SET consumed_at = ?`)
	assert.Equal(t, "UPDATE", stmt.operation)
	assert.Equal(t, "oauth_authorization_codes", stmt.table)

	assert.Equal(t, "users", describeStatement("SELECT * FROM `users` WHERE id = ?").table)

	// The leading verb wins over nested ones.
	stmt = describeStatement(`INSERT INTO sessions (id) SELECT id FROM pending`)
	assert.Equal(t, "INSERT", stmt.operation)
	assert.Equal(t, "sessions", stmt.table)

	assert.Equal(t, "UNKNOWN", describeStatement("").operation)
}

func TestGinMiddlewareWritesAccessLine(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.DebugLevel)

	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{
		Logger: zap.New(core),
		ErrorClassifier: func(error) (string, string) {
			return "forbidden", "forbidden"
		},
	}))
	r.GET("/admin/audit-logs", func(c *gin.Context) {
		c.Request = c.Request.WithContext(obscontext.WithActor(c.Request.Context(), "user", "7"))
		_ = c.Error(errors.New("forbidden"))
		c.Status(http.StatusForbidden)
	})
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/admin/audit-logs?code=secret", nil)
	req.Header.Set("X-Request-Id", "req-abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-abc", w.Header().Get("X-Request-Id"))

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, 2, logs.Len())
	denied := logs.All()[0]
	assert.Equal(t, zapcore.WarnLevel, denied.Level)
	fields := denied.ContextMap()
	assert.Equal(t, "/admin/audit-logs", fields["path"])
	assert.Equal(t, "/admin/audit-logs", fields["route"])
	assert.Equal(t, "req-abc", fields["request_id"])
	assert.Equal(t, "7", fields["actor_id"])
	assert.Equal(t, "forbidden", fields["error_code"])
	assert.EqualValues(t, http.StatusForbidden, fields["status"])

	assert.Equal(t, zapcore.DebugLevel, logs.All()[1].Level)
}

func TestEnsureRequestIDReplacesUnsafeValues(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{Logger: zap.NewNop()}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for _, id := range []string{"has space", strings.Repeat("a", 200), ""} {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set("X-Request-Id", id)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		got := w.Header().Get("X-Request-Id")
		assert.NotEqual(t, id, got)
		_, err := uuid.Parse(got)
		assert.NoError(t, err)
	}
}

func TestAccessLevel(t *testing.T) {
	assert.Equal(t, zapcore.InfoLevel, accessLevel("/oauth/token", http.StatusOK))
	assert.Equal(t, zapcore.WarnLevel, accessLevel("/oauth/token", http.StatusTooManyRequests))
	assert.Equal(t, zapcore.ErrorLevel, accessLevel("/oauth/token", http.StatusServiceUnavailable))
	assert.Equal(t, zapcore.DebugLevel, accessLevel("/metrics", http.StatusOK))
}

func TestRedactingCoreMasksCredentialFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	log := zap.New(newRedactingCore(core)).With(zap.String("client_secret", "abcdefghijklmnop"))

	log.Info("issued",
		zap.String("refresh_token", "rt_0123456789abcdef"),
		zap.String("client_id", "web"),
	)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "web", fields["client_id"])
	assert.Equal(t, "rt_****cdef", fields["refresh_token"])
	assert.Equal(t, "****mnop", fields["client_secret"])
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(nil, Config{Level: "loud"})
	assert.Error(t, err)
}
