package oauth2provider

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"

	authdomain "github.com/smallbiznis/gatekeeper/internal/auth/domain"
	"github.com/smallbiznis/gatekeeper/internal/auth/scope"
	"github.com/smallbiznis/gatekeeper/internal/clock"
	"github.com/smallbiznis/gatekeeper/internal/config"
	obsmetrics "github.com/smallbiznis/gatekeeper/internal/observability/metrics"
	"github.com/smallbiznis/gatekeeper/internal/oauth/client"
	"github.com/smallbiznis/gatekeeper/internal/oauth/code"
	"github.com/smallbiznis/gatekeeper/internal/oauth/consent"
	"github.com/smallbiznis/gatekeeper/internal/oauth/token"
	"github.com/smallbiznis/gatekeeper/internal/pipeline"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const responseTypeCode = "code"

type Params struct {
	fx.In

	Config    config.Config
	Clients   *client.Service
	Codes     *code.Manager
	Issuer    *token.Issuer
	Rotator   *token.Rotator
	Validator *token.Validator
	Revoker   *token.Revoker
	Consent   *consent.Service
	Users     authdomain.Service
	Clock     clock.Clock
	Log       *zap.Logger
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

// Service orchestrates the OAuth grants over the client, code and token
// components.
type Service struct {
	cfg       config.Config
	clients   *client.Service
	codes     *code.Manager
	issuer    *token.Issuer
	rotator   *token.Rotator
	validator *token.Validator
	revoker   *token.Revoker
	consent   *consent.Service
	users     authdomain.Service
	clock     clock.Clock
	log       *zap.Logger
	metrics   *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		cfg:       p.Config,
		clients:   p.Clients,
		codes:     p.Codes,
		issuer:    p.Issuer,
		rotator:   p.Rotator,
		validator: p.Validator,
		revoker:   p.Revoker,
		consent:   p.Consent,
		users:     p.Users,
		clock:     p.Clock,
		log:       p.Log.Named("auth.oauth2.service"),
		metrics:   p.Metrics,
	}
}

type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scopes              []string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Nonce               string
}

type TokenRequest struct {
	GrantType    string
	Client       *client.Client
	Code         string
	RedirectURI  string
	CodeVerifier string
	RefreshToken string
	Scopes       []string
}

// TokenResponse is the RFC 6749 §5.1 body.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// IntrospectionResponse is the RFC 7662 body. Inactive tokens carry only
// active=false.
type IntrospectionResponse struct {
	Active      bool     `json:"active"`
	Scope       string   `json:"scope,omitempty"`
	ClientID    string   `json:"client_id,omitempty"`
	Subject     string   `json:"sub,omitempty"`
	TokenType   string   `json:"token_type,omitempty"`
	ExpiresAt   int64    `json:"exp,omitempty"`
	IssuedAt    int64    `json:"iat,omitempty"`
	Issuer      string   `json:"iss,omitempty"`
	JTI         string   `json:"jti,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// ResolveRedirect loads the client and checks the redirect URI. Failures here
// must not be reported by redirecting.
func (s *Service) ResolveRedirect(ctx context.Context, clientID, redirectURI string) (*client.Client, error) {
	c, err := s.clients.Get(ctx, clientID)
	if err != nil {
		if errors.Is(err, client.ErrClientNotFound) {
			return nil, ErrInvalidClient
		}
		return nil, err
	}
	if !c.Active {
		return nil, ErrInvalidClient
	}
	if !c.AllowsRedirectURI(redirectURI) {
		return nil, ErrInvalidRedirectURI
	}
	return c, nil
}

// Authorize issues a code for an authenticated session. ErrConsentRequired
// means the user must approve the scopes first.
func (s *Service) Authorize(ctx context.Context, c *client.Client, sess *authdomain.Session, req AuthorizeRequest) (*code.Issued, error) {
	if req.ResponseType != responseTypeCode {
		return nil, ErrUnsupportedResponseType
	}
	if c.RequireConsent {
		covered, err := s.consent.Covers(ctx, sess.UserID, c.ID, req.Scopes)
		if err != nil {
			return nil, err
		}
		if !covered {
			return nil, ErrConsentRequired
		}
	}

	issued, err := s.codes.Issue(ctx, code.IssueRequest{
		UserID:              sess.UserID,
		Client:              c,
		RedirectURI:         req.RedirectURI,
		Scopes:              req.Scopes,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		Nonce:               req.Nonce,
		AuthTime:            sess.AuthTime,
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("authorization code issued",
		zap.String("client_id", c.ID),
		zap.String("user_id", sess.UserID.String()),
	)
	return issued, nil
}

// AuthenticateClient verifies token endpoint credentials.
func (s *Service) AuthenticateClient(ctx context.Context, creds client.Credentials) (*client.Client, error) {
	return s.clients.Authenticate(ctx, creds)
}

// Exchange runs one token request for an authenticated client.
func (s *Service) Exchange(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	set, err := s.exchange(ctx, req)
	if err != nil {
		s.metrics.RecordGrantFailure(ctx, grantLabel(req.GrantType), mapOAuthErrorCode(err))
		return nil, err
	}
	return &TokenResponse{
		AccessToken:  set.AccessToken,
		TokenType:    set.TokenType,
		ExpiresIn:    set.ExpiresIn,
		RefreshToken: set.RefreshToken,
		IDToken:      set.IDToken,
		Scope:        scope.Format(set.Scopes),
	}, nil
}

func (s *Service) exchange(ctx context.Context, req TokenRequest) (*token.TokenSet, error) {
	c := req.Client
	switch req.GrantType {
	case "":
		return nil, ErrInvalidRequest

	case client.GrantAuthorizationCode:
		if !c.AllowsGrant(client.GrantAuthorizationCode) {
			return nil, ErrUnauthorizedClient
		}
		grant, err := s.codes.Consume(ctx, code.ConsumeRequest{
			Code:         req.Code,
			ClientID:     c.ID,
			RedirectURI:  req.RedirectURI,
			CodeVerifier: req.CodeVerifier,
		})
		if err != nil {
			return nil, err
		}
		active, err := s.users.IsActive(ctx, grant.UserID)
		if err != nil {
			return nil, err
		}
		if !active {
			s.log.Info("authorization code rejected", zap.String("reason", "user_inactive"), zap.String("client_id", c.ID))
			return nil, ErrInvalidGrant
		}
		return s.issuer.Issue(ctx, c, token.Principal{
			UserID:   grant.UserID,
			Scopes:   grant.Scopes,
			Nonce:    grant.Nonce,
			AuthTime: grant.AuthTime,
		}, client.GrantAuthorizationCode)

	case client.GrantRefreshToken:
		return s.rotator.Refresh(ctx, c, req.RefreshToken, req.Scopes)

	case client.GrantClientCredentials:
		if c.IsPublic() || !c.AllowsGrant(client.GrantClientCredentials) {
			return nil, ErrUnauthorizedClient
		}
		scopes := scope.Normalize(req.Scopes)
		if len(scopes) == 0 {
			scopes = scope.Normalize(c.Scopes)
		}
		if err := scope.Validate(scopes); err != nil || !c.AllowsScopes(scopes) {
			return nil, ErrInvalidScope
		}
		return s.issuer.Issue(ctx, c, token.Principal{Scopes: scopes}, client.GrantClientCredentials)

	default:
		return nil, ErrUnsupportedGrantType
	}
}

// Introspect reports on any token kind. Inactive tokens, whatever the
// reason, produce the same response.
func (s *Service) Introspect(ctx context.Context, raw string, caller *client.Client) (*IntrospectionResponse, error) {
	var callerID string
	if caller != nil {
		callerID = caller.ID
	}
	claims, err := s.validator.Validate(ctx, raw, callerID)
	if err != nil {
		if errors.Is(err, token.ErrInactive) {
			return &IntrospectionResponse{Active: false}, nil
		}
		return nil, err
	}

	resp := &IntrospectionResponse{
		Active:    true,
		Scope:     scope.Format(claims.Scopes),
		ClientID:  claims.ClientID,
		Subject:   claims.Subject,
		TokenType: claims.Kind,
		ExpiresAt: claims.ExpiresAt.Unix(),
		Issuer:    s.cfg.OAuth.Issuer,
		JTI:       claims.JTI,
	}
	if !claims.IssuedAt.IsZero() {
		resp.IssuedAt = claims.IssuedAt.Unix()
	}
	if claims.Kind == token.KindAccessToken {
		resp.Permissions = claims.Permissions
	}
	return resp, nil
}

// Revoke succeeds for unknown, foreign and already revoked tokens.
// Revoke always succeeds for an authenticated client; an empty token has
// nothing to revoke.
func (s *Service) Revoke(ctx context.Context, c *client.Client, raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return s.revoker.Revoke(ctx, c, raw)
}

// UserInfo returns the OpenID claims of the user behind an access token.
type UserInfo struct {
	Subject           string `json:"sub"`
	Name              string `json:"name,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	Email             string `json:"email,omitempty"`
	UpdatedAt         int64  `json:"updated_at,omitempty"`
}

func (s *Service) UserInfo(ctx context.Context, principal *pipeline.Principal) (*UserInfo, error) {
	if !principal.IsUser() || !scope.Contains(principal.Scopes, scope.OpenID) {
		return nil, ErrInsufficientScope
	}
	user, err := s.users.GetUser(ctx, principal.UserID)
	if err != nil {
		if errors.Is(err, authdomain.ErrUserNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if !user.Active {
		return nil, ErrInvalidToken
	}

	info := &UserInfo{Subject: principal.Subject}
	if scope.Contains(principal.Scopes, scope.Profile) {
		info.Name = user.DisplayName
		info.PreferredUsername = user.Username
		info.UpdatedAt = user.UpdatedAt.Unix()
	}
	if scope.Contains(principal.Scopes, scope.Email) && user.Email != nil {
		info.Email = *user.Email
	}
	return info, nil
}

// GrantConsent records the user's approval of scopes the client may request.
func (s *Service) GrantConsent(ctx context.Context, userID snowflake.ID, clientID string, scopes []string) (*consent.Grant, error) {
	c, err := s.clients.Get(ctx, clientID)
	if err != nil {
		if errors.Is(err, client.ErrClientNotFound) {
			return nil, ErrInvalidClient
		}
		return nil, err
	}
	if !c.Active {
		return nil, ErrInvalidClient
	}
	scopes = scope.Normalize(scopes)
	if err := scope.Validate(scopes); err != nil || !c.AllowsScopes(scopes) {
		return nil, ErrInvalidScope
	}
	return s.consent.Grant(ctx, userID, c.ID, scopes)
}

func (s *Service) WithdrawConsent(ctx context.Context, userID snowflake.ID, clientID string) error {
	return s.consent.Withdraw(ctx, userID, clientID)
}

func grantLabel(grantType string) string {
	switch grantType {
	case client.GrantAuthorizationCode, client.GrantRefreshToken, client.GrantClientCredentials:
		return grantType
	default:
		return "unsupported"
	}
}
