package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/gatekeeper/internal/auth/domain"
	"github.com/smallbiznis/gatekeeper/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAuth struct {
	token string
}

func (s stubAuth) Authenticate(_ context.Context, raw string) (*domain.Session, error) {
	if raw != s.token {
		return nil, domain.ErrInvalidSession
	}
	return &domain.Session{UserID: 7}, nil
}

func TestSetCookieAttributes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := &Manager{cookieName: DefaultCookieName, secure: true, clock: clock.NewFakeClock(now)}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	m.Set(c, "abc", now.Add(time.Hour))

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	ck := cookies[0]
	assert.Equal(t, "_sid", ck.Name)
	assert.Equal(t, "abc", ck.Value)
	assert.Equal(t, "/", ck.Path)
	assert.Empty(t, ck.Domain)
	assert.True(t, ck.HttpOnly)
	assert.True(t, ck.Secure)
	assert.Equal(t, http.SameSiteLaxMode, ck.SameSite)
	assert.Equal(t, 3600, ck.MaxAge)
}

func TestCurrentSession(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := &Manager{cookieName: DefaultCookieName, auth: stubAuth{token: "good"}, clock: clock.New()}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := m.Current(c)
	assert.ErrorIs(t, err, domain.ErrInvalidSession)

	c.Request.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "good"})
	sess, err := m.Current(c)
	require.NoError(t, err)
	assert.EqualValues(t, 7, sess.UserID)
}
