package token

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/gatekeeper/internal/auth/scope"
	"github.com/smallbiznis/gatekeeper/internal/clock"
	"github.com/smallbiznis/gatekeeper/internal/config"
	"github.com/smallbiznis/gatekeeper/internal/oauth/client"
	"github.com/smallbiznis/gatekeeper/internal/oauth/opaque"
	"github.com/smallbiznis/gatekeeper/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	TokenTypeBearer = "Bearer"

	KindAccessToken  = "access_token"
	KindRefreshToken = "refresh_token"
	KindIDToken      = "id_token"
)

// PermissionResolver yields a user's current effective permissions.
type PermissionResolver interface {
	Resolve(ctx context.Context, userID snowflake.ID) ([]string, error)
}

// Principal is the verified party tokens are minted for. A zero UserID
// denotes a client acting on its own behalf.
type Principal struct {
	UserID   snowflake.ID
	Scopes   []string
	Nonce    string
	AuthTime time.Time
}

func (p Principal) subject(clientID string) string {
	if p.UserID == 0 {
		return clientID
	}
	return p.UserID.String()
}

type TokenSet struct {
	AccessToken   string
	AccessTokenID string
	TokenType     string
	ExpiresIn     int
	ExpiresAt     time.Time
	RefreshToken  string
	IDToken       string
	Scopes        []string
	Permissions   []string
}

// AccessClaims are the private claims carried by an access token.
type AccessClaims struct {
	ClientID    string   `json:"client_id"`
	Scope       string   `json:"scope,omitempty"`
	Permissions []string `json:"permissions"`
}

// IDClaims are the private claims carried by an ID token.
type IDClaims struct {
	Nonce           string           `json:"nonce,omitempty"`
	AuthTime        *jwt.NumericDate `json:"auth_time,omitempty"`
	AuthorizedParty string           `json:"azp,omitempty"`
}

type IssuerParams struct {
	fx.In

	Config   config.Config
	Keys     *KeySet
	Store    Store
	Resolver PermissionResolver
	Clock    clock.Clock
	Log      *zap.Logger
	Metrics  *metrics.Metrics `optional:"true"`
}

// Issuer mints access, refresh and ID tokens.
type Issuer struct {
	keys     *KeySet
	store    Store
	resolver PermissionResolver
	clock    clock.Clock
	tokenGen opaque.TokenGenerator
	issuer   string
	audience string
	defaults client.Lifetimes
	metrics  *metrics.Metrics
	log      *zap.Logger
}

const (
	defaultAccessTokenTTL  = time.Hour
	defaultRefreshTokenTTL = 30 * 24 * time.Hour
	defaultIDTokenTTL      = time.Hour
)

func NewIssuer(p IssuerParams) *Issuer {
	audience := p.Config.OAuth.Audience
	if audience == "" {
		audience = p.Config.OAuth.Issuer
	}
	return &Issuer{
		keys:     p.Keys,
		store:    p.Store,
		resolver: p.Resolver,
		clock:    p.Clock,
		tokenGen: opaque.NewGenerator(),
		issuer:   p.Config.OAuth.Issuer,
		audience: audience,
		defaults: client.Lifetimes{
			AccessToken:  ttlOrDefault(p.Config.OAuth.AccessTokenTTL, defaultAccessTokenTTL),
			RefreshToken: ttlOrDefault(p.Config.OAuth.RefreshTokenTTL, defaultRefreshTokenTTL),
			IDToken:      ttlOrDefault(p.Config.OAuth.IDTokenTTL, defaultIDTokenTTL),
		},
		metrics: p.Metrics,
		log:     p.Log.Named("oauth.token.issuer"),
	}
}

func ttlOrDefault(ttl, fallback time.Duration) time.Duration {
	if ttl <= 0 {
		return fallback
	}
	return ttl
}

// Issue mints a fresh token set. A refresh token is included only for users
// that were granted offline_access by a client allowed the refresh grant.
func (i *Issuer) Issue(ctx context.Context, c *client.Client, p Principal, grantType string) (*TokenSet, error) {
	scopes := scope.Normalize(p.Scopes)
	perms, err := i.permissions(ctx, p.UserID)
	if err != nil {
		return nil, err
	}

	now := i.clock.Now()
	lifetimes := c.Lifetimes(i.defaults)

	set, err := i.mint(c, p, scopes, perms, now, lifetimes)
	if err != nil {
		return nil, err
	}

	if p.UserID != 0 && scope.Contains(scopes, scope.OfflineAccess) && c.AllowsGrant(client.GrantRefreshToken) {
		raw, record, err := i.newRefreshToken(c, p, scopes, set.AccessTokenID, now, lifetimes.RefreshToken, nil)
		if err != nil {
			return nil, err
		}
		if err := i.store.CreateRefreshToken(ctx, record); err != nil {
			return nil, err
		}
		set.RefreshToken = raw
	}

	i.recordIssued(ctx, grantType, set)
	return set, nil
}

func (i *Issuer) permissions(ctx context.Context, userID snowflake.ID) ([]string, error) {
	if userID == 0 {
		return []string{}, nil
	}
	perms, err := i.resolver.Resolve(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve permissions: %w", err)
	}
	if perms == nil {
		perms = []string{}
	}
	return perms, nil
}

// mint signs the access token and, for openid requests on behalf of a user,
// the ID token. Nothing is persisted.
func (i *Issuer) mint(c *client.Client, p Principal, scopes, perms []string, now time.Time, lifetimes client.Lifetimes) (*TokenSet, error) {
	jti := uuid.NewString()
	expiresAt := now.Add(lifetimes.AccessToken)

	std := jwt.Claims{
		Issuer:    i.issuer,
		Subject:   p.subject(c.ID),
		Audience:  jwt.Audience{i.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		Expiry:    jwt.NewNumericDate(expiresAt),
		ID:        jti,
	}
	access, err := jwt.Signed(i.keys.access).
		Claims(std).
		Claims(AccessClaims{
			ClientID:    c.ID,
			Scope:       scope.Format(scopes),
			Permissions: perms,
		}).
		Serialize()
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	set := &TokenSet{
		AccessToken:   access,
		AccessTokenID: jti,
		TokenType:     TokenTypeBearer,
		ExpiresIn:     int(lifetimes.AccessToken.Seconds()),
		ExpiresAt:     expiresAt,
		Scopes:        scopes,
		Permissions:   perms,
	}

	if p.UserID != 0 && scope.Contains(scopes, scope.OpenID) {
		idToken, err := i.signIDToken(c, p, now, lifetimes.IDToken)
		if err != nil {
			return nil, err
		}
		set.IDToken = idToken
	}
	return set, nil
}

func (i *Issuer) signIDToken(c *client.Client, p Principal, now time.Time, ttl time.Duration) (string, error) {
	std := jwt.Claims{
		Issuer:   i.issuer,
		Subject:  p.subject(c.ID),
		Audience: jwt.Audience{c.ID},
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(ttl)),
		ID:       uuid.NewString(),
	}
	private := IDClaims{
		Nonce:           p.Nonce,
		AuthorizedParty: c.ID,
	}
	if !p.AuthTime.IsZero() {
		private.AuthTime = jwt.NewNumericDate(p.AuthTime)
	}
	raw, err := jwt.Signed(i.keys.identity).Claims(std).Claims(private).Serialize()
	if err != nil {
		return "", fmt.Errorf("sign id token: %w", err)
	}
	return raw, nil
}

func (i *Issuer) newRefreshToken(c *client.Client, p Principal, scopes []string, jti string, now time.Time, ttl time.Duration, parent *RefreshToken) (string, *RefreshToken, error) {
	raw, err := i.tokenGen.NewToken()
	if err != nil {
		return "", nil, err
	}
	id := ulid.Make().String()
	record := &RefreshToken{
		ID:            id,
		TokenHash:     opaque.Hash(raw),
		ChainID:       id,
		ClientID:      c.ID,
		UserID:        p.UserID,
		Scopes:        scopes,
		AccessTokenID: jti,
		AuthTime:      p.AuthTime,
		ExpiresAt:     now.Add(ttl),
		CreatedAt:     now,
	}
	if record.AuthTime.IsZero() {
		record.AuthTime = now
	}
	if parent != nil {
		parentID := parent.ID
		record.ChainID = parent.ChainID
		record.ParentID = &parentID
	}
	return raw, record, nil
}

func (i *Issuer) recordIssued(ctx context.Context, grantType string, set *TokenSet) {
	i.metrics.RecordTokenIssued(ctx, grantType, KindAccessToken)
	if set.RefreshToken != "" {
		i.metrics.RecordTokenIssued(ctx, grantType, KindRefreshToken)
	}
	if set.IDToken != "" {
		i.metrics.RecordTokenIssued(ctx, grantType, KindIDToken)
	}
}
