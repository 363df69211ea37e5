package token

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/gatekeeper/internal/audit/domain"
	"github.com/smallbiznis/gatekeeper/internal/auth/scope"
	"github.com/smallbiznis/gatekeeper/internal/oauth/client"
	"github.com/smallbiznis/gatekeeper/internal/oauth/opaque"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// UserStatus reports whether a user may still be issued tokens.
type UserStatus interface {
	IsActive(ctx context.Context, userID snowflake.ID) (bool, error)
}

type RotatorParams struct {
	fx.In

	Issuer *Issuer
	Audit  auditdomain.Emitter `optional:"true"`
	Users  UserStatus          `optional:"true"`
	Log    *zap.Logger
}

// Rotator serves the refresh_token grant.
type Rotator struct {
	issuer *Issuer
	audit  auditdomain.Emitter
	users  UserStatus
	log    *zap.Logger
}

func NewRotator(p RotatorParams) *Rotator {
	return &Rotator{
		issuer: p.Issuer,
		audit:  p.Audit,
		users:  p.Users,
		log:    p.Log.Named("oauth.token.rotator"),
	}
}

// Refresh exchanges a refresh token for a new token set. With rotation on,
// the presented token is revoked and replaced by a child in the same chain.
// A presented token that was already rotated is treated as replay.
func (r *Rotator) Refresh(ctx context.Context, c *client.Client, presented string, requested []string) (*TokenSet, error) {
	if strings.TrimSpace(presented) == "" {
		return nil, r.reject("missing_token", c.ID)
	}
	if !c.AllowsGrant(client.GrantRefreshToken) {
		return nil, ErrUnauthorizedClient
	}

	store := r.issuer.store
	record, err := store.FindRefreshToken(ctx, opaque.Hash(presented))
	if err != nil {
		if errors.Is(err, errRefreshNotFound) {
			return nil, r.reject("unknown_token", c.ID)
		}
		return nil, err
	}

	now := r.issuer.clock.Now()
	if record.ClientID != c.ID {
		return nil, r.reject("client_mismatch", c.ID)
	}
	if record.RevokedAt != nil {
		if record.RevokedReason != nil && *record.RevokedReason == RevokedReasonRotated {
			if err := r.handleReuse(ctx, c, record); err != nil {
				return nil, err
			}
		}
		return nil, r.reject("revoked", c.ID)
	}
	if !now.Before(record.ExpiresAt) {
		return nil, r.reject("expired", c.ID)
	}

	scopes := record.Scopes
	if len(requested) > 0 {
		requested = scope.Normalize(requested)
		if !scope.Subset(requested, record.Scopes) {
			return nil, ErrInvalidScope
		}
		scopes = requested
	}

	if r.users != nil {
		active, err := r.users.IsActive(ctx, record.UserID)
		if err != nil {
			return nil, err
		}
		if !active {
			return nil, r.reject("user_inactive", c.ID)
		}
	}

	// Permissions are resolved again so role changes since issuance apply.
	perms, err := r.issuer.permissions(ctx, record.UserID)
	if err != nil {
		return nil, err
	}

	principal := Principal{UserID: record.UserID, Scopes: scopes, AuthTime: record.AuthTime}
	lifetimes := c.Lifetimes(r.issuer.defaults)
	set, err := r.issuer.mint(c, principal, scopes, perms, now, lifetimes)
	if err != nil {
		return nil, err
	}

	if !c.RotateRefreshTokens {
		if err := store.SetAccessTokenID(ctx, record.ID, set.AccessTokenID); err != nil {
			return nil, err
		}
		set.RefreshToken = presented
		r.issuer.recordIssued(ctx, client.GrantRefreshToken, set)
		return set, nil
	}

	raw, next, err := r.issuer.newRefreshToken(c, principal, record.Scopes, set.AccessTokenID, now, lifetimes.RefreshToken, record)
	if err != nil {
		return nil, err
	}
	rotated, err := store.Rotate(ctx, record.ID, now, next)
	if err != nil {
		return nil, err
	}
	if !rotated {
		return nil, r.reject("concurrent_rotation", c.ID)
	}

	set.RefreshToken = raw
	r.issuer.recordIssued(ctx, client.GrantRefreshToken, set)
	return set, nil
}

func (r *Rotator) handleReuse(ctx context.Context, c *client.Client, record *RefreshToken) error {
	policy := client.ReuseRevokeToken
	var revoked int64
	if c.ChainRevocationOnReuse() {
		policy = client.ReuseRevokeChain
		n, err := r.issuer.store.RevokeChain(ctx, record.ChainID, r.issuer.clock.Now(), RevokedReasonReuse)
		if err != nil {
			return err
		}
		revoked = n
	}

	r.issuer.metrics.RecordRefreshReuse(ctx, policy)
	r.log.Warn("refresh token reuse detected",
		zap.String("client_id", c.ID),
		zap.String("chain_id", record.ChainID),
		zap.String("policy", policy),
		zap.Int64("revoked", revoked),
	)

	if r.audit != nil {
		err := r.audit.Emit(ctx, auditdomain.Record{
			ActorType:  auditdomain.ActorTypeClient,
			ActorID:    c.ID,
			Action:     auditdomain.ActionRefreshReuse,
			Outcome:    auditdomain.OutcomeDenied,
			TargetType: "refresh_token",
			TargetID:   record.ID,
			Details: map[string]any{
				"chain_id": record.ChainID,
				"user_id":  record.UserID.String(),
				"policy":   policy,
				"revoked":  revoked,
			},
		})
		if err != nil {
			r.log.Warn("audit emit failed",
				zap.String("action", auditdomain.ActionRefreshReuse),
				zap.String("client_id", c.ID),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (r *Rotator) reject(reason, clientID string) error {
	r.log.Info("refresh token rejected",
		zap.String("reason", reason),
		zap.String("client_id", clientID),
	)
	return ErrInvalidGrant
}
