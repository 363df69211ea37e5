package client

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"sync"

	"github.com/smallbiznis/gatekeeper/internal/auth/password"
	"github.com/smallbiznis/gatekeeper/internal/auth/scope"
	"github.com/smallbiznis/gatekeeper/internal/clock"
	"go.uber.org/zap"
)

const secretBytes = 32

// Credentials are the client authentication values presented at an endpoint.
type Credentials struct {
	ID     string
	Secret string
	Method string
}

type RegisterRequest struct {
	ID                      string
	Name                    string
	Secret                  string
	Public                  bool
	RedirectURIs            []string
	GrantTypes              []string
	Scopes                  []string
	TokenEndpointAuthMethod string
	RequirePKCE             bool
	RequireConsent          bool
	DisableRotation         bool
	ReuseDetection          string
}

type Service struct {
	store Store
	clock clock.Clock
	log   *zap.Logger

	dummyOnce sync.Once
	dummyHash string
}

func NewService(store Store, clk clock.Clock, log *zap.Logger) *Service {
	return &Service{
		store: store,
		clock: clk,
		log:   log.Named("oauth.client"),
	}
}

func (s *Service) Get(ctx context.Context, id string) (*Client, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrClientNotFound
	}
	return s.store.FindByID(ctx, id)
}

// Authenticate verifies client credentials. Every rejection is ErrInvalidClient;
// the reason is logged, never returned.
func (s *Service) Authenticate(ctx context.Context, creds Credentials) (*Client, error) {
	c, err := s.Get(ctx, creds.ID)
	if err != nil {
		if errors.Is(err, ErrClientNotFound) {
			s.burnHash(creds.Secret)
			s.log.Debug("client authentication failed", zap.String("reason", "unknown_client"))
			return nil, ErrInvalidClient
		}
		return nil, err
	}
	if !c.Active {
		s.log.Debug("client authentication failed", zap.String("client_id", c.ID), zap.String("reason", "inactive"))
		return nil, ErrInvalidClient
	}

	if c.IsPublic() {
		if creds.Secret != "" || (creds.Method != "" && creds.Method != AuthMethodNone) {
			s.log.Debug("client authentication failed", zap.String("client_id", c.ID), zap.String("reason", "public_client_secret"))
			return nil, ErrInvalidClient
		}
		return c, nil
	}

	if creds.Method == AuthMethodNone || creds.Secret == "" {
		s.log.Debug("client authentication failed", zap.String("client_id", c.ID), zap.String("reason", "missing_secret"))
		return nil, ErrInvalidClient
	}
	// client_secret_basic and client_secret_post carry the same secret; a
	// confidential client may present it either way.
	if !password.Verify(creds.Secret, *c.SecretHash) {
		s.log.Debug("client authentication failed", zap.String("client_id", c.ID), zap.String("reason", "bad_secret"))
		return nil, ErrInvalidClient
	}
	return c, nil
}

// Register creates a client. For confidential clients without a supplied
// secret one is generated and returned once.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Client, string, error) {
	id := strings.TrimSpace(req.ID)
	if id == "" {
		return nil, "", ErrInvalidRequest
	}
	scopes := scope.Normalize(req.Scopes)
	if err := scope.Validate(scopes); err != nil {
		return nil, "", ErrInvalidRequest
	}
	grants := req.GrantTypes
	if len(grants) == 0 {
		grants = []string{GrantAuthorizationCode, GrantRefreshToken}
	}
	for _, g := range grants {
		switch g {
		case GrantAuthorizationCode, GrantRefreshToken, GrantClientCredentials:
		default:
			return nil, "", ErrInvalidRequest
		}
	}
	reuse := strings.TrimSpace(req.ReuseDetection)
	if reuse == "" {
		reuse = ReuseRevokeToken
	}
	if reuse != ReuseRevokeToken && reuse != ReuseRevokeChain {
		return nil, "", ErrInvalidRequest
	}

	now := s.clock.Now()
	c := &Client{
		ID:                  id,
		Name:                strings.TrimSpace(req.Name),
		RedirectURIs:        req.RedirectURIs,
		GrantTypes:          grants,
		Scopes:              scopes,
		RequirePKCE:         req.RequirePKCE,
		RequireConsent:      req.RequireConsent,
		RotateRefreshTokens: !req.DisableRotation,
		ReuseDetection:      reuse,
		Active:              true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if c.Name == "" {
		c.Name = id
	}

	var secret string
	if req.Public {
		if c.AllowsGrant(GrantClientCredentials) {
			return nil, "", ErrInvalidRequest
		}
		c.TokenEndpointAuthMethod = AuthMethodNone
		c.RequirePKCE = true
	} else {
		secret = req.Secret
		if secret == "" {
			generated, err := newSecret()
			if err != nil {
				return nil, "", err
			}
			secret = generated
		}
		hashed, err := password.Hash(secret)
		if err != nil {
			return nil, "", err
		}
		c.SecretHash = &hashed
		c.TokenEndpointAuthMethod = req.TokenEndpointAuthMethod
		if c.TokenEndpointAuthMethod == "" {
			c.TokenEndpointAuthMethod = AuthMethodSecretBasic
		}
	}

	if err := s.store.Create(ctx, c); err != nil {
		return nil, "", err
	}
	s.log.Info("client registered", zap.String("client_id", c.ID), zap.Bool("public", c.IsPublic()))
	return c, secret, nil
}

func (s *Service) burnHash(secret string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = password.Hash("gatekeeper-dummy-secret")
	})
	if s.dummyHash != "" {
		password.Verify(secret, s.dummyHash)
	}
}

func newSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
