package token

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/smallbiznis/gatekeeper/internal/auth/scope"
	"github.com/smallbiznis/gatekeeper/internal/clock"
	"github.com/smallbiznis/gatekeeper/internal/config"
	"github.com/smallbiznis/gatekeeper/internal/oauth/opaque"
	"go.uber.org/zap"
)

const revokedCacheSize = 4096

// Claims is the normalized view of an active token.
type Claims struct {
	Kind        string
	Subject     string
	UserID      snowflake.ID
	ClientID    string
	Scopes      []string
	Permissions []string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	JTI         string
}

// IsClient reports whether the token was issued to a client acting for itself.
func (c *Claims) IsClient() bool {
	return c.UserID == 0
}

// Validator checks presented tokens. Invalid tokens of every kind produce
// ErrInactive; only storage failures surface as other errors.
type Validator struct {
	keys     *KeySet
	store    Store
	clock    clock.Clock
	issuer   string
	audience string
	revoked  *lru.Cache[string, time.Time]
	log      *zap.Logger
}

func NewValidator(cfg config.Config, keys *KeySet, store Store, clk clock.Clock, log *zap.Logger) (*Validator, error) {
	revoked, err := lru.New[string, time.Time](revokedCacheSize)
	if err != nil {
		return nil, err
	}
	audience := cfg.OAuth.Audience
	if audience == "" {
		audience = cfg.OAuth.Issuer
	}
	return &Validator{
		keys:     keys,
		store:    store,
		clock:    clk,
		issuer:   cfg.OAuth.Issuer,
		audience: audience,
		revoked:  revoked,
		log:      log.Named("oauth.token.validator"),
	}, nil
}

// IsJWT classifies a bearer value by shape: three dot-separated segments.
func IsJWT(raw string) bool {
	return strings.Count(raw, ".") == 2
}

// Validate checks any token kind. When clientID is set, refresh tokens must
// be bound to that client.
func (v *Validator) Validate(ctx context.Context, raw string, clientID string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInactive
	}
	if IsJWT(raw) {
		return v.ValidateAccessToken(ctx, raw)
	}
	return v.validateRefreshToken(ctx, raw, clientID)
}

// ValidateAccessToken accepts only signed access tokens.
func (v *Validator) ValidateAccessToken(ctx context.Context, raw string) (*Claims, error) {
	std, private, err := v.parseAccessToken(raw)
	if err != nil {
		return nil, v.inactive("malformed", err)
	}

	err = std.ValidateWithLeeway(jwt.Expected{
		Issuer:      v.issuer,
		AnyAudience: jwt.Audience{v.audience},
		Time:        v.clock.Now(),
	}, 0)
	if err != nil {
		return nil, v.inactive("claims", err)
	}
	if std.ID == "" || std.Expiry == nil {
		return nil, v.inactive("missing_claims", nil)
	}

	revoked, err := v.isRevoked(ctx, std.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, v.inactive("revoked", nil)
	}

	claims := &Claims{
		Kind:        KindAccessToken,
		Subject:     std.Subject,
		ClientID:    private.ClientID,
		Scopes:      scope.Parse(private.Scope),
		Permissions: private.Permissions,
		ExpiresAt:   std.Expiry.Time(),
		JTI:         std.ID,
	}
	if std.IssuedAt != nil {
		claims.IssuedAt = std.IssuedAt.Time()
	}
	if std.Subject != private.ClientID {
		id, err := snowflake.ParseString(std.Subject)
		if err != nil || id == 0 {
			return nil, v.inactive("subject", err)
		}
		claims.UserID = id
	}
	return claims, nil
}

// parseAccessToken verifies the signature and token type but not time or
// revocation.
func (v *Validator) parseAccessToken(raw string) (*jwt.Claims, *AccessClaims, error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{SigningAlgorithm})
	if err != nil {
		return nil, nil, err
	}
	if len(tok.Headers) != 1 {
		return nil, nil, errors.New("unexpected header count")
	}
	if typ, _ := tok.Headers[0].ExtraHeaders[jose.HeaderType].(string); !strings.EqualFold(typ, typeAccessToken) {
		return nil, nil, errors.New("not an access token")
	}

	var std jwt.Claims
	var private AccessClaims
	if err := tok.Claims(v.keys.Public(), &std, &private); err != nil {
		return nil, nil, err
	}
	return &std, &private, nil
}

func (v *Validator) validateRefreshToken(ctx context.Context, raw string, clientID string) (*Claims, error) {
	record, err := v.store.FindRefreshToken(ctx, opaque.Hash(raw))
	if err != nil {
		if errors.Is(err, errRefreshNotFound) {
			return nil, v.inactive("unknown_refresh_token", nil)
		}
		return nil, err
	}

	switch {
	case record.RevokedAt != nil:
		return nil, v.inactive("revoked", nil)
	case !v.clock.Now().Before(record.ExpiresAt):
		return nil, v.inactive("expired", nil)
	case clientID != "" && record.ClientID != clientID:
		return nil, v.inactive("client_mismatch", nil)
	}

	return &Claims{
		Kind:      KindRefreshToken,
		Subject:   record.UserID.String(),
		UserID:    record.UserID,
		ClientID:  record.ClientID,
		Scopes:    record.Scopes,
		IssuedAt:  record.CreatedAt,
		ExpiresAt: record.ExpiresAt,
		JTI:       record.ID,
	}, nil
}

func (v *Validator) isRevoked(ctx context.Context, jti string) (bool, error) {
	if _, ok := v.revoked.Get(jti); ok {
		return true, nil
	}
	revoked, err := v.store.IsAccessTokenRevoked(ctx, jti)
	if err != nil {
		return false, err
	}
	if revoked {
		v.revoked.Add(jti, v.clock.Now())
	}
	return revoked, nil
}

func (v *Validator) markRevoked(jti string) {
	v.revoked.Add(jti, v.clock.Now())
}

func (v *Validator) inactive(reason string, err error) error {
	fields := []zap.Field{zap.String("reason", reason)}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	v.log.Debug("token inactive", fields...)
	return ErrInactive
}
