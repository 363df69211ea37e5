package code

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gatekeeper/internal/auth/scope"
	"github.com/smallbiznis/gatekeeper/internal/clock"
	"github.com/smallbiznis/gatekeeper/internal/config"
	"github.com/smallbiznis/gatekeeper/internal/oauth/client"
	"github.com/smallbiznis/gatekeeper/internal/oauth/opaque"
	"github.com/smallbiznis/gatekeeper/internal/oauth/pkce"
	"go.uber.org/zap"
)

const defaultCodeTTL = 10 * time.Minute

type IssueRequest struct {
	UserID              snowflake.ID
	Client              *client.Client
	RedirectURI         string
	Scopes              []string
	CodeChallenge       string
	CodeChallengeMethod string
	Nonce               string
	AuthTime            time.Time
}

type Issued struct {
	Code      string
	ExpiresAt time.Time
}

type ConsumeRequest struct {
	Code         string
	ClientID     string
	RedirectURI  string
	CodeVerifier string
}

// Manager issues authorization codes and exchanges them exactly once.
type Manager struct {
	store    Store
	clock    clock.Clock
	tokenGen opaque.TokenGenerator
	ttl      time.Duration
	log      *zap.Logger
}

func NewManager(cfg config.Config, store Store, clk clock.Clock, log *zap.Logger) *Manager {
	ttl := cfg.OAuth.CodeTTL
	if ttl <= 0 {
		ttl = defaultCodeTTL
	}
	return &Manager{
		store:    store,
		clock:    clk,
		tokenGen: opaque.NewGenerator(),
		ttl:      ttl,
		log:      log.Named("oauth.code"),
	}
}

func (m *Manager) Issue(ctx context.Context, req IssueRequest) (*Issued, error) {
	c := req.Client
	if c == nil || req.UserID == 0 {
		return nil, ErrInvalidRequest
	}
	if !c.AllowsGrant(client.GrantAuthorizationCode) {
		return nil, ErrUnauthorizedClient
	}
	if !c.AllowsRedirectURI(req.RedirectURI) {
		return nil, ErrInvalidRedirectURI
	}
	scopes := scope.Normalize(req.Scopes)
	if err := scope.Validate(scopes); err != nil || !c.AllowsScopes(scopes) {
		return nil, ErrInvalidScope
	}

	challenge := strings.TrimSpace(req.CodeChallenge)
	method := strings.TrimSpace(req.CodeChallengeMethod)
	if challenge == "" {
		if c.PKCERequired() || method != "" {
			return nil, ErrInvalidRequest
		}
	} else {
		if method == "" {
			method = pkce.MethodS256
		}
		if !pkce.ValidMethod(method) || !pkce.ValidChallenge(challenge) {
			return nil, ErrInvalidRequest
		}
	}

	raw, err := m.tokenGen.NewToken()
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	authTime := req.AuthTime
	if authTime.IsZero() {
		authTime = now
	}
	record := &AuthorizationCode{
		CodeHash:    opaque.Hash(raw),
		ClientID:    c.ID,
		UserID:      req.UserID,
		RedirectURI: req.RedirectURI,
		Scopes:      scopes,
		Nonce:       req.Nonce,
		AuthTime:    authTime,
		ExpiresAt:   now.Add(m.ttl),
		CreatedAt:   now,
	}
	if challenge != "" {
		record.CodeChallenge = challenge
		record.CodeChallengeMethod = method
	}

	if err := m.store.Create(ctx, record); err != nil {
		return nil, err
	}

	return &Issued{Code: raw, ExpiresAt: record.ExpiresAt}, nil
}

// Consume validates a presented code and marks it consumed. Every check
// failure yields ErrInvalidGrant; storage failures are returned as is.
func (m *Manager) Consume(ctx context.Context, req ConsumeRequest) (*Grant, error) {
	if strings.TrimSpace(req.Code) == "" {
		return nil, m.reject("missing_code", req.ClientID)
	}

	codeHash := opaque.Hash(req.Code)
	record, err := m.store.Get(ctx, codeHash)
	if err != nil {
		if errors.Is(err, errCodeNotFound) {
			return nil, m.reject("unknown_code", req.ClientID)
		}
		return nil, err
	}

	now := m.clock.Now()
	switch {
	case record.ConsumedAt != nil:
		return nil, m.reject("already_consumed", req.ClientID)
	case !now.Before(record.ExpiresAt):
		return nil, m.reject("expired", req.ClientID)
	case record.ClientID != req.ClientID:
		return nil, m.reject("client_mismatch", req.ClientID)
	case record.RedirectURI != req.RedirectURI:
		return nil, m.reject("redirect_mismatch", req.ClientID)
	}

	if record.CodeChallenge != "" {
		if !pkce.Verify(record.CodeChallenge, record.CodeChallengeMethod, req.CodeVerifier) {
			return nil, m.reject("pkce_failed", req.ClientID)
		}
	} else if req.CodeVerifier != "" {
		return nil, m.reject("unexpected_verifier", req.ClientID)
	}

	won, err := m.store.MarkConsumed(ctx, codeHash, now)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, m.reject("concurrent_consume", req.ClientID)
	}

	return &Grant{
		UserID:   record.UserID,
		ClientID: record.ClientID,
		Scopes:   record.Scopes,
		Nonce:    record.Nonce,
		AuthTime: record.AuthTime,
	}, nil
}

func (m *Manager) reject(reason, clientID string) error {
	m.log.Info("authorization code rejected",
		zap.String("reason", reason),
		zap.String("client_id", clientID),
	)
	return ErrInvalidGrant
}

// PurgeExpired deletes up to limit codes that expired before the cutoff.
func (m *Manager) PurgeExpired(ctx context.Context, before time.Time, limit int) (int64, error) {
	return m.store.PurgeExpired(ctx, before, limit)
}
