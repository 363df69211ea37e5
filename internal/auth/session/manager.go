package session

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/gatekeeper/internal/auth/domain"
	"github.com/smallbiznis/gatekeeper/internal/clock"
	"github.com/smallbiznis/gatekeeper/internal/config"
)

const DefaultCookieName = "_sid"

// Authenticator resolves a raw session credential.
type Authenticator interface {
	Authenticate(ctx context.Context, rawToken string) (*domain.Session, error)
}

// Manager reads and writes the session cookie. The cookie is host-only:
// path "/", HttpOnly, SameSite=Lax and Secure outside development.
type Manager struct {
	cookieName string
	secure     bool
	auth       Authenticator
	clock      clock.Clock
}

func NewManager(cfg config.Config, auth domain.Service, clk clock.Clock) *Manager {
	return &Manager{
		cookieName: DefaultCookieName,
		secure:     cfg.AuthCookieSecure,
		auth:       auth,
		clock:      clk,
	}
}

func (m *Manager) CookieName() string {
	return m.cookieName
}

func (m *Manager) ReadToken(c *gin.Context) (string, bool) {
	token, err := c.Cookie(m.cookieName)
	if err != nil {
		return "", false
	}
	if strings.TrimSpace(token) == "" {
		return "", false
	}
	return token, true
}

// Current returns the session behind the request cookie, if any is valid.
func (m *Manager) Current(c *gin.Context) (*domain.Session, error) {
	token, ok := m.ReadToken(c)
	if !ok {
		return nil, domain.ErrInvalidSession
	}
	return m.auth.Authenticate(c.Request.Context(), token)
}

func (m *Manager) Set(c *gin.Context, value string, expiresAt time.Time) {
	maxAge := int(expiresAt.Sub(m.clock.Now()).Seconds())
	if maxAge < 0 {
		maxAge = 0
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(m.cookieName, value, maxAge, "/", "", m.secure, true)
}

func (m *Manager) Clear(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(m.cookieName, "", -1, "/", "", m.secure, true)
}
