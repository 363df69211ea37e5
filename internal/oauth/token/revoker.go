package token

import (
	"context"
	"errors"
	"strings"

	"github.com/smallbiznis/gatekeeper/internal/clock"
	"github.com/smallbiznis/gatekeeper/internal/oauth/client"
	"github.com/smallbiznis/gatekeeper/internal/oauth/opaque"
	"github.com/smallbiznis/gatekeeper/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type RevokerParams struct {
	fx.In

	Issuer    *Issuer
	Validator *Validator
	Clock     clock.Clock
	Log       *zap.Logger
	Metrics   *metrics.Metrics `optional:"true"`
}

// Revoker implements RFC 7009 revocation. Unknown, invalid or foreign
// tokens are ignored so callers cannot probe token validity.
type Revoker struct {
	issuer    *Issuer
	validator *Validator
	clock     clock.Clock
	metrics   *metrics.Metrics
	log       *zap.Logger
}

func NewRevoker(p RevokerParams) *Revoker {
	return &Revoker{
		issuer:    p.Issuer,
		validator: p.Validator,
		clock:     p.Clock,
		metrics:   p.Metrics,
		log:       p.Log.Named("oauth.token.revoker"),
	}
}

// Revoke invalidates raw if it belongs to c. Only storage failures are
// returned.
func (r *Revoker) Revoke(ctx context.Context, c *client.Client, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if IsJWT(raw) {
		return r.revokeAccessToken(ctx, c, raw)
	}
	return r.revokeRefreshToken(ctx, c, raw)
}

func (r *Revoker) revokeAccessToken(ctx context.Context, c *client.Client, raw string) error {
	std, private, err := r.validator.parseAccessToken(raw)
	if err != nil {
		r.log.Debug("revocation ignored", zap.String("reason", "malformed"))
		return nil
	}
	if private.ClientID != c.ID {
		r.log.Debug("revocation ignored", zap.String("reason", "foreign_token"), zap.String("client_id", c.ID))
		return nil
	}
	now := r.clock.Now()
	if std.ID == "" || std.Expiry == nil || !now.Before(std.Expiry.Time()) {
		return nil
	}

	if err := r.issuer.store.RevokeAccessToken(ctx, &RevokedAccessToken{
		JTI:       std.ID,
		ClientID:  private.ClientID,
		Subject:   std.Subject,
		ExpiresAt: std.Expiry.Time(),
		RevokedAt: now,
	}); err != nil {
		return err
	}
	r.validator.markRevoked(std.ID)
	r.metrics.RecordRevocation(ctx, KindAccessToken)
	return nil
}

func (r *Revoker) revokeRefreshToken(ctx context.Context, c *client.Client, raw string) error {
	store := r.issuer.store
	record, err := store.FindRefreshToken(ctx, opaque.Hash(raw))
	if err != nil {
		if errors.Is(err, errRefreshNotFound) {
			r.log.Debug("revocation ignored", zap.String("reason", "unknown_token"))
			return nil
		}
		return err
	}
	if record.ClientID != c.ID {
		r.log.Debug("revocation ignored", zap.String("reason", "foreign_token"), zap.String("client_id", c.ID))
		return nil
	}
	if record.RevokedAt != nil {
		return nil
	}

	now := r.clock.Now()
	n, err := store.RevokeChain(ctx, record.ChainID, now, RevokedReasonRevoked)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}

	// The most recent access token minted from this refresh token goes too.
	if record.AccessTokenID != "" {
		lifetimes := c.Lifetimes(r.issuer.defaults)
		if err := store.RevokeAccessToken(ctx, &RevokedAccessToken{
			JTI:       record.AccessTokenID,
			ClientID:  record.ClientID,
			Subject:   record.UserID.String(),
			ExpiresAt: now.Add(lifetimes.AccessToken),
			RevokedAt: now,
		}); err != nil {
			return err
		}
		r.validator.markRevoked(record.AccessTokenID)
	}
	r.metrics.RecordRevocation(ctx, KindRefreshToken)
	return nil
}
