package client

import (
	"time"

	"github.com/smallbiznis/gatekeeper/internal/auth/scope"
	"gorm.io/datatypes"
)

const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
	GrantClientCredentials = "client_credentials"

	AuthMethodSecretBasic = "client_secret_basic"
	AuthMethodSecretPost  = "client_secret_post"
	AuthMethodNone        = "none"

	// ReuseRevokeToken rejects a replayed refresh token and leaves the rest of
	// its chain alone.
	ReuseRevokeToken = "revoke_token"
	// ReuseRevokeChain additionally revokes every live token in the chain.
	ReuseRevokeChain = "revoke_chain"
)

// Client is a registered OAuth client.
type Client struct {
	ID                      string                      `gorm:"column:id;type:text;primaryKey"`
	Name                    string                      `gorm:"column:name;type:text;not null"`
	SecretHash              *string                     `gorm:"column:secret_hash;type:text"`
	RedirectURIs            datatypes.JSONSlice[string] `gorm:"column:redirect_uris;type:json"`
	GrantTypes              datatypes.JSONSlice[string] `gorm:"column:grant_types;type:json"`
	Scopes                  datatypes.JSONSlice[string] `gorm:"column:scopes;type:json"`
	TokenEndpointAuthMethod string                      `gorm:"column:token_endpoint_auth_method;type:text;not null"`
	RequirePKCE             bool                        `gorm:"column:require_pkce;not null"`
	RequireConsent          bool                        `gorm:"column:require_consent;not null"`
	AccessTokenTTLSeconds   int                         `gorm:"column:access_token_ttl_seconds;not null;default:0"`
	RefreshTokenTTLSeconds  int                         `gorm:"column:refresh_token_ttl_seconds;not null;default:0"`
	IDTokenTTLSeconds       int                         `gorm:"column:id_token_ttl_seconds;not null;default:0"`
	RotateRefreshTokens     bool                        `gorm:"column:rotate_refresh_tokens;not null"`
	ReuseDetection          string                      `gorm:"column:reuse_detection;type:text;not null;default:'revoke_token'"`
	Active                  bool                        `gorm:"column:active;not null"`
	CreatedAt               time.Time                   `gorm:"column:created_at;not null"`
	UpdatedAt               time.Time                   `gorm:"column:updated_at;not null"`
}

func (Client) TableName() string { return "oauth_clients" }

// IsPublic reports whether the client holds no secret.
func (c *Client) IsPublic() bool {
	return c.SecretHash == nil || *c.SecretHash == ""
}

// PKCERequired is true for every public client regardless of its flag.
func (c *Client) PKCERequired() bool {
	return c.RequirePKCE || c.IsPublic()
}

func (c *Client) AllowsGrant(grantType string) bool {
	for _, g := range c.GrantTypes {
		if g == grantType {
			return true
		}
	}
	return false
}

// AllowsRedirectURI requires an exact string match against a registered URI.
func (c *Client) AllowsRedirectURI(uri string) bool {
	if uri == "" {
		return false
	}
	for _, registered := range c.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

func (c *Client) AllowsScopes(requested []string) bool {
	return scope.Subset(requested, c.Scopes)
}

func (c *Client) ChainRevocationOnReuse() bool {
	return c.ReuseDetection == ReuseRevokeChain
}

// Lifetimes returns per-client overrides or the server defaults.
func (c *Client) Lifetimes(defaults Lifetimes) Lifetimes {
	out := defaults
	if c.AccessTokenTTLSeconds > 0 {
		out.AccessToken = time.Duration(c.AccessTokenTTLSeconds) * time.Second
	}
	if c.RefreshTokenTTLSeconds > 0 {
		out.RefreshToken = time.Duration(c.RefreshTokenTTLSeconds) * time.Second
	}
	if c.IDTokenTTLSeconds > 0 {
		out.IDToken = time.Duration(c.IDTokenTTLSeconds) * time.Second
	}
	return out
}

type Lifetimes struct {
	AccessToken  time.Duration
	RefreshToken time.Duration
	IDToken      time.Duration
}
