package consent

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gatekeeper/internal/auth/scope"
	"github.com/smallbiznis/gatekeeper/internal/clock"
	"go.uber.org/zap"
)

type Service struct {
	store Store
	clock clock.Clock
	log   *zap.Logger
}

func NewService(store Store, clk clock.Clock, log *zap.Logger) *Service {
	return &Service{store: store, clock: clk, log: log.Named("oauth.consent")}
}

// Covers reports whether the user has already approved every requested
// scope for the client.
func (s *Service) Covers(ctx context.Context, userID snowflake.ID, clientID string, requested []string) (bool, error) {
	grant, err := s.store.Find(ctx, userID, clientID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return scope.Subset(requested, grant.Scopes), nil
}

// Grant adds scopes to the user's approval for the client. Previously
// approved scopes are kept.
func (s *Service) Grant(ctx context.Context, userID snowflake.ID, clientID string, scopes []string) (*Grant, error) {
	scopes = scope.Normalize(scopes)
	if err := scope.Validate(scopes); err != nil {
		return nil, err
	}

	merged := scopes
	existing, err := s.store.Find(ctx, userID, clientID)
	switch {
	case err == nil:
		merged = scope.Normalize(append(append([]string{}, existing.Scopes...), scopes...))
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	now := s.clock.Now()
	grant := &Grant{
		UserID:    userID,
		ClientID:  clientID,
		Scopes:    scope.Sorted(merged),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Upsert(ctx, grant); err != nil {
		return nil, err
	}
	s.log.Info("consent granted",
		zap.String("user_id", userID.String()),
		zap.String("client_id", clientID),
		zap.Strings("scopes", grant.Scopes),
	)
	return grant, nil
}

func (s *Service) Withdraw(ctx context.Context, userID snowflake.ID, clientID string) error {
	removed, err := s.store.Delete(ctx, userID, clientID)
	if err != nil {
		return err
	}
	if !removed {
		return ErrNotFound
	}
	return nil
}
