package local

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/gatekeeper/internal/audit/domain"
	authdomain "github.com/smallbiznis/gatekeeper/internal/auth/domain"
	"github.com/smallbiznis/gatekeeper/internal/auth/session"
	"github.com/smallbiznis/gatekeeper/internal/config"
	"github.com/smallbiznis/gatekeeper/internal/pipeline"
	"go.uber.org/zap"
)

// Handler manages local username/password sessions.
type Handler struct {
	authsvc  authdomain.Service
	sessions *session.Manager
	log      *zap.Logger
	cfg      config.Config
}

func NewHandler(authsvc authdomain.Service, sessions *session.Manager, log *zap.Logger, cfg config.Config) *Handler {
	return &Handler{
		authsvc:  authsvc,
		sessions: sessions,
		log:      log.Named("auth.local.handler"),
		cfg:      cfg,
	}
}

func RegisterRoutes(r *gin.Engine, h *Handler, chains *pipeline.Chains) {
	group := r.Group("/auth")
	group.POST("/login", chains.Public.Handle(auditdomain.ActionLogin, h.Login))
	group.POST("/logout", chains.Public.Handle(auditdomain.ActionLogout, h.Logout))
}

type loginRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
	ReturnTo string `json:"return_to" form:"return_to"`
}

// Login opens a session. With a same-origin return_to the browser is sent
// back there, typically to resume an authorization request.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		writeLocalError(c, http.StatusBadRequest, "invalid_request")
		return
	}
	pipeline.AddDetail(c, "username", strings.ToLower(strings.TrimSpace(req.Username)))

	result, err := h.authsvc.Login(c.Request.Context(), authdomain.LoginRequest{
		Username:  req.Username,
		Password:  req.Password,
		UserAgent: c.Request.UserAgent(),
		IPAddress: c.ClientIP(),
	})
	if err != nil {
		status, code := mapLoginError(err)
		if status >= http.StatusInternalServerError {
			h.log.Error("login failed", zap.String("request_id", requestID(c)), zap.Error(err))
		}
		writeLocalError(c, status, code)
		return
	}

	pipeline.SetPrincipal(c, &pipeline.Principal{
		Subject: result.Session.UserID,
		UserID:  result.UserID,
	})
	pipeline.SetTarget(c, "session", result.SessionID.String())
	h.sessions.Set(c, result.RawToken, result.ExpiresAt)

	h.log.Info("local login created session",
		zap.String("request_id", requestID(c)),
		zap.String("user_id", result.UserID.String()),
	)

	if target, ok := h.safeReturnTo(req.ReturnTo); ok {
		c.Redirect(http.StatusSeeOther, target)
		return
	}
	c.JSON(http.StatusOK, result.Session)
}

func (h *Handler) Logout(c *gin.Context) {
	token, ok := h.sessions.ReadToken(c)
	if !ok {
		writeLocalError(c, http.StatusUnauthorized, "invalid_session")
		return
	}

	if sess, err := h.authsvc.Authenticate(c.Request.Context(), token); err == nil {
		pipeline.SetPrincipal(c, &pipeline.Principal{Subject: sess.UserID.String(), UserID: sess.UserID})
	}
	if err := h.authsvc.Logout(c.Request.Context(), token); err != nil && !isSessionError(err) {
		h.log.Error("logout failed", zap.String("request_id", requestID(c)), zap.Error(err))
		writeLocalError(c, http.StatusInternalServerError, "internal_error")
		return
	}

	h.sessions.Clear(c)
	c.Status(http.StatusNoContent)
}

// safeReturnTo accepts a path on this host or an absolute URL on the
// issuer's origin. Anything else would be an open redirect.
func (h *Handler) safeReturnTo(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	target, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if !target.IsAbs() && target.Host == "" {
		if !strings.HasPrefix(target.Path, "/") || strings.HasPrefix(raw, "//") || strings.Contains(raw, `\`) {
			return "", false
		}
		return target.RequestURI(), true
	}
	issuer, err := url.Parse(h.cfg.OAuth.Issuer)
	if err != nil || issuer.Host == "" {
		return "", false
	}
	if !strings.EqualFold(target.Scheme, issuer.Scheme) || !strings.EqualFold(target.Host, issuer.Host) {
		return "", false
	}
	return target.String(), true
}

func mapLoginError(err error) (int, string) {
	switch {
	case errors.Is(err, authdomain.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, authdomain.ErrAccountLocked):
		return http.StatusUnauthorized, "account_locked"
	case errors.Is(err, authdomain.ErrUserInactive):
		return http.StatusUnauthorized, "account_inactive"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func isSessionError(err error) bool {
	return errors.Is(err, authdomain.ErrSessionNotFound) ||
		errors.Is(err, authdomain.ErrSessionExpired) ||
		errors.Is(err, authdomain.ErrSessionRevoked) ||
		errors.Is(err, authdomain.ErrInvalidSession)
}

func writeLocalError(c *gin.Context, status int, code string) {
	c.JSON(status, gin.H{"error": code})
}

func requestID(c *gin.Context) string {
	if v := strings.TrimSpace(c.GetString("request_id")); v != "" {
		return v
	}
	return strings.TrimSpace(c.GetHeader("X-Request-Id"))
}
