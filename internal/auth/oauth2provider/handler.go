package oauth2provider

import (
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/gatekeeper/internal/audit/domain"
	authdomain "github.com/smallbiznis/gatekeeper/internal/auth/domain"
	"github.com/smallbiznis/gatekeeper/internal/auth/scope"
	"github.com/smallbiznis/gatekeeper/internal/auth/session"
	"github.com/smallbiznis/gatekeeper/internal/config"
	"github.com/smallbiznis/gatekeeper/internal/oauth/client"
	"github.com/smallbiznis/gatekeeper/internal/oauth/consent"
	"github.com/smallbiznis/gatekeeper/internal/pipeline"
	"go.uber.org/zap"
)

// Handler serves the OAuth 2.1 and OpenID Connect endpoints.
type Handler struct {
	svc      *Service
	sessions *session.Manager
	log      *zap.Logger
	cfg      config.Config
}

func NewHandler(svc *Service, sessions *session.Manager, log *zap.Logger, cfg config.Config) *Handler {
	return &Handler{
		svc:      svc,
		sessions: sessions,
		log:      log.Named("auth.oauth2.handler"),
		cfg:      cfg,
	}
}

func RegisterRoutes(r *gin.Engine, h *Handler, d *Discovery, chains *pipeline.Chains) {
	group := r.Group("/oauth")
	group.GET("/authorize", chains.Public.Handle(auditdomain.ActionAuthorize, h.Authorize))
	group.POST("/token", chains.Public.Handle(auditdomain.ActionTokenIssued, h.Token))
	group.POST("/introspect", chains.Public.Handle(auditdomain.ActionIntrospect, h.Introspect))
	group.POST("/revoke", chains.Public.Handle(auditdomain.ActionRevoke, h.Revoke))
	group.GET("/userinfo", chains.Bearer.Handle(auditdomain.ActionUserInfo, h.UserInfo))
	group.POST("/consent", chains.Public.Handle(auditdomain.ActionConsentGranted, h.GrantConsent))
	group.DELETE("/consent/:client_id", chains.Public.Handle(auditdomain.ActionConsentWithdrawn, h.WithdrawConsent))

	r.GET("/.well-known/openid-configuration", d.Configuration)
	r.GET("/.well-known/jwks.json", d.JWKS)
}

// Authorize implements the authorization endpoint for response_type=code.
// Errors about the client or redirect URI are shown to the user agent;
// everything after that goes back to the client.
func (h *Handler) Authorize(c *gin.Context) {
	q := c.Request.URL.Query()
	clientID := q.Get("client_id")
	redirectURI := q.Get("redirect_uri")
	state := q.Get("state")
	pipeline.AddDetail(c, "client_id", clientID)

	cl, err := h.svc.ResolveRedirect(c.Request.Context(), clientID, redirectURI)
	if err != nil {
		h.writeError(c, err)
		return
	}

	if q.Get("response_type") != responseTypeCode {
		h.redirectError(c, redirectURI, ErrUnsupportedResponseType, state)
		return
	}

	sess, err := h.sessions.Current(c)
	if err != nil {
		if !isSessionError(err) {
			h.writeError(c, err)
			return
		}
		c.Redirect(http.StatusFound, withQuery(h.cfg.OAuth.LoginURL, url.Values{"return_to": {c.Request.URL.RequestURI()}}))
		return
	}
	pipeline.SetPrincipal(c, &pipeline.Principal{
		Subject:  sess.UserID.String(),
		UserID:   sess.UserID,
		ClientID: cl.ID,
	})

	issued, err := h.svc.Authorize(c.Request.Context(), cl, sess, AuthorizeRequest{
		ResponseType:        q.Get("response_type"),
		ClientID:            cl.ID,
		RedirectURI:         redirectURI,
		Scopes:              scope.Parse(q.Get("scope")),
		State:               state,
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		Nonce:               q.Get("nonce"),
	})
	if err != nil {
		if errors.Is(err, ErrConsentRequired) && h.cfg.OAuth.ConsentURL != "" {
			c.Redirect(http.StatusFound, withQuery(h.cfg.OAuth.ConsentURL, q))
			return
		}
		if mapOAuthErrorCode(err) == "server_error" {
			h.log.Error("authorize failed", zap.String("request_id", requestID(c)), zap.Error(err))
		}
		h.redirectError(c, redirectURI, err, state)
		return
	}

	params := url.Values{"code": {issued.Code}}
	if state != "" {
		params.Set("state", state)
	}
	c.Redirect(http.StatusFound, withQuery(redirectURI, params))
}

// Token implements the token endpoint.
func (h *Handler) Token(c *gin.Context) {
	ctx := c.Request.Context()
	grantType := c.PostForm("grant_type")
	pipeline.AddDetail(c, "grant_type", grantType)

	cl, err := h.authenticateClient(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	pipeline.SetPrincipal(c, &pipeline.Principal{Subject: cl.ID, ClientID: cl.ID})

	resp, err := h.svc.Exchange(ctx, TokenRequest{
		GrantType:    grantType,
		Client:       cl,
		Code:         c.PostForm("code"),
		RedirectURI:  c.PostForm("redirect_uri"),
		CodeVerifier: c.PostForm("code_verifier"),
		RefreshToken: c.PostForm("refresh_token"),
		Scopes:       scope.Parse(c.PostForm("scope")),
	})
	if err != nil {
		if mapOAuthErrorCode(err) == "server_error" {
			h.log.Error("token exchange failed",
				zap.String("request_id", requestID(c)),
				zap.String("grant_type", grantType),
				zap.Error(err),
			)
		}
		h.writeError(c, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	c.JSON(http.StatusOK, resp)
}

// Introspect implements RFC 7662. Client authentication is optional unless
// the server requires it.
func (h *Handler) Introspect(c *gin.Context) {
	var caller *client.Client
	if h.cfg.OAuth.IntrospectionRequireClient || hasClientCredentials(c) {
		cl, err := h.authenticateClient(c)
		if err != nil {
			h.writeError(c, err)
			return
		}
		caller = cl
		pipeline.SetPrincipal(c, &pipeline.Principal{Subject: cl.ID, ClientID: cl.ID})
	}

	resp, err := h.svc.Introspect(c.Request.Context(), c.PostForm("token"), caller)
	if err != nil {
		h.log.Error("introspection failed", zap.String("request_id", requestID(c)), zap.Error(err))
		h.writeError(c, err)
		return
	}
	pipeline.AddDetail(c, "active", resp.Active)

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, resp)
}

// Revoke implements RFC 7009. Unknown tokens are not an error.
func (h *Handler) Revoke(c *gin.Context) {
	cl, err := h.authenticateClient(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	pipeline.SetPrincipal(c, &pipeline.Principal{Subject: cl.ID, ClientID: cl.ID})

	if err := h.svc.Revoke(c.Request.Context(), cl, c.PostForm("token")); err != nil {
		if mapOAuthErrorCode(err) == "server_error" {
			h.log.Error("revocation failed", zap.String("request_id", requestID(c)), zap.Error(err))
		}
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *Handler) UserInfo(c *gin.Context) {
	info, err := h.svc.UserInfo(c.Request.Context(), pipeline.PrincipalFrom(c))
	if err != nil {
		switch {
		case errors.Is(err, ErrInsufficientScope):
			c.Header("WWW-Authenticate", `Bearer error="insufficient_scope", scope="openid"`)
		case errors.Is(err, ErrInvalidToken):
			c.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
		default:
			h.log.Error("userinfo failed", zap.String("request_id", requestID(c)), zap.Error(err))
		}
		h.writeError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, info)
}

type consentRequest struct {
	ClientID string `json:"client_id" form:"client_id"`
	Scope    string `json:"scope" form:"scope"`
	ReturnTo string `json:"return_to" form:"return_to"`
}

// GrantConsent records approval from the signed-in user. With return_to the
// user agent resumes the authorization request.
func (h *Handler) GrantConsent(c *gin.Context) {
	var req consentRequest
	if err := c.ShouldBind(&req); err != nil {
		h.writeError(c, ErrInvalidRequest)
		return
	}
	sess, ok := h.requireSession(c)
	if !ok {
		return
	}
	pipeline.AddDetail(c, "client_id", req.ClientID)

	grant, err := h.svc.GrantConsent(c.Request.Context(), sess.UserID, req.ClientID, scope.Parse(req.Scope))
	if err != nil {
		if mapOAuthErrorCode(err) == "server_error" {
			h.log.Error("consent grant failed", zap.String("request_id", requestID(c)), zap.Error(err))
		}
		h.writeError(c, err)
		return
	}
	pipeline.SetTarget(c, "client", grant.ClientID)
	pipeline.AddDetail(c, "scopes", []string(grant.Scopes))

	if strings.HasPrefix(req.ReturnTo, "/oauth/authorize?") {
		c.Redirect(http.StatusSeeOther, req.ReturnTo)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"client_id": grant.ClientID,
		"scope":     scope.Format(grant.Scopes),
	})
}

func (h *Handler) WithdrawConsent(c *gin.Context) {
	sess, ok := h.requireSession(c)
	if !ok {
		return
	}
	clientID := c.Param("client_id")
	pipeline.SetTarget(c, "client", clientID)

	if err := h.svc.WithdrawConsent(c.Request.Context(), sess.UserID, clientID); err != nil {
		if errors.Is(err, consent.ErrNotFound) {
			pipeline.WriteOAuthError(c, http.StatusNotFound, "not_found", "")
			return
		}
		h.log.Error("consent withdrawal failed", zap.String("request_id", requestID(c)), zap.Error(err))
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) requireSession(c *gin.Context) (*authdomain.Session, bool) {
	sess, err := h.sessions.Current(c)
	if err != nil {
		if isSessionError(err) {
			pipeline.WriteOAuthError(c, http.StatusUnauthorized, "login_required", "")
			return nil, false
		}
		h.log.Error("session lookup failed", zap.String("request_id", requestID(c)), zap.Error(err))
		h.writeError(c, err)
		return nil, false
	}
	pipeline.SetPrincipal(c, &pipeline.Principal{Subject: sess.UserID.String(), UserID: sess.UserID})
	return sess, true
}

// authenticateClient accepts client_secret_basic, client_secret_post and
// public clients identified by client_id alone. Both forms at once must
// agree on the client id.
func (h *Handler) authenticateClient(c *gin.Context) (*client.Client, error) {
	creds := client.Credentials{
		ID:     c.PostForm("client_id"),
		Secret: c.PostForm("client_secret"),
		Method: client.AuthMethodNone,
	}
	if creds.Secret != "" {
		creds.Method = client.AuthMethodSecretPost
	}

	if id, secret, ok, err := parseBasicAuth(c); err != nil {
		return nil, ErrInvalidClient
	} else if ok {
		if creds.ID != "" && creds.ID != id {
			return nil, ErrInvalidClient
		}
		if creds.Secret != "" {
			return nil, ErrInvalidRequest
		}
		creds = client.Credentials{ID: id, Secret: secret, Method: client.AuthMethodSecretBasic}
	}
	if creds.ID == "" {
		return nil, ErrInvalidClient
	}

	pipeline.AddDetail(c, "client_id", creds.ID)
	return h.svc.AuthenticateClient(c.Request.Context(), creds)
}

func hasClientCredentials(c *gin.Context) bool {
	if strings.TrimSpace(c.GetHeader("Authorization")) != "" {
		return true
	}
	return c.PostForm("client_id") != ""
}

// parseBasicAuth decodes RFC 6749 §2.3.1 credentials, which are form
// encoded before base64.
func parseBasicAuth(c *gin.Context) (string, string, bool, error) {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header == "" {
		return "", "", false, nil
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Basic") {
		return "", "", false, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(parts[1]))
	if err != nil {
		return "", "", false, err
	}
	rawID, rawSecret, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return "", "", false, errors.New("malformed basic credentials")
	}
	id, err := url.QueryUnescape(rawID)
	if err != nil {
		return "", "", false, err
	}
	secret, err := url.QueryUnescape(rawSecret)
	if err != nil {
		return "", "", false, err
	}
	return id, secret, true, nil
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := mapOAuthErrorStatus(err)
	code := mapOAuthErrorCode(err)
	if code == "invalid_client" && c.GetHeader("Authorization") != "" {
		c.Header("WWW-Authenticate", `Basic realm="oauth"`)
	}
	pipeline.WriteOAuthError(c, status, code, "")
}

func (h *Handler) redirectError(c *gin.Context, redirectURI string, err error, state string) {
	params := url.Values{"error": {mapOAuthErrorCode(err)}}
	if state != "" {
		params.Set("state", state)
	}
	c.Set("oauth_error", params.Get("error"))
	pipeline.AddDetail(c, "error", params.Get("error"))
	c.Redirect(http.StatusFound, withQuery(redirectURI, params))
}

func withQuery(rawURL string, params url.Values) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	for key, values := range params {
		for _, v := range values {
			q.Add(key, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func isSessionError(err error) bool {
	return errors.Is(err, authdomain.ErrInvalidSession) ||
		errors.Is(err, authdomain.ErrSessionExpired) ||
		errors.Is(err, authdomain.ErrSessionRevoked) ||
		errors.Is(err, authdomain.ErrUserInactive)
}

func requestID(c *gin.Context) string {
	if v := strings.TrimSpace(c.GetString("request_id")); v != "" {
		return v
	}
	return strings.TrimSpace(c.GetHeader("X-Request-Id"))
}
