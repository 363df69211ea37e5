package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/gatekeeper/internal/audit/domain"
	"github.com/smallbiznis/gatekeeper/internal/auth/domain"
	"github.com/smallbiznis/gatekeeper/internal/auth/password"
	"github.com/smallbiznis/gatekeeper/internal/clock"
	"github.com/smallbiznis/gatekeeper/internal/config"
	"github.com/smallbiznis/gatekeeper/internal/oauth/opaque"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	sessionTTL = 12 * time.Hour

	minPasswordLength = 8
	maxUsernameLength = 64
)

type Params struct {
	fx.In

	Log         *zap.Logger
	Repo        domain.Repository
	SessionRepo domain.SessionRepository
	GenID       *snowflake.Node
	Clock       clock.Clock
	Policy      *config.PolicyHolder
	Audit       auditdomain.Emitter `optional:"true"`
}

type Service struct {
	log         *zap.Logger
	repo        domain.Repository
	sessionRepo domain.SessionRepository
	genID       *snowflake.Node
	clock       clock.Clock
	policy      *config.PolicyHolder
	audit       auditdomain.Emitter
	tokenGen    opaque.TokenGenerator

	dummyOnce sync.Once
	dummyHash string
}

func New(p Params) domain.Service {
	return &Service{
		log:         p.Log.Named("auth.service"),
		repo:        p.Repo,
		sessionRepo: p.SessionRepo,
		genID:       p.GenID,
		clock:       p.Clock,
		policy:      p.Policy,
		audit:       p.Audit,
		tokenGen:    opaque.NewGenerator(),
	}
}

func (s *Service) CreateUser(ctx context.Context, req domain.CreateUserRequest) (*domain.User, error) {
	username := normalizeUsername(req.Username)
	if username == "" || len(username) > maxUsernameLength {
		return nil, domain.ErrInvalidUsername
	}
	if len(req.Password) < minPasswordLength {
		return nil, domain.ErrWeakPassword
	}

	hashed, err := password.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	user := &domain.User{
		ID:                  s.genID.Generate(),
		Username:            username,
		DisplayName:         strings.TrimSpace(req.DisplayName),
		PasswordHash:        &hashed,
		Active:              true,
		LastPasswordChanged: &now,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if email := strings.ToLower(strings.TrimSpace(req.Email)); email != "" {
		user.Email = &email
	}
	if user.DisplayName == "" {
		user.DisplayName = username
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login verifies credentials and opens a session. Unknown users and wrong
// passwords are indistinguishable; locked and inactive accounts are reported
// as such.
func (s *Service) Login(ctx context.Context, req domain.LoginRequest) (*domain.LoginResult, error) {
	username := normalizeUsername(req.Username)
	if username == "" || req.Password == "" {
		return nil, domain.ErrInvalidCredentials
	}

	user, err := s.repo.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			s.burnHash(req.Password)
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}

	now := s.clock.Now()
	if !user.Active {
		return nil, domain.ErrUserInactive
	}
	if user.IsLocked(now) {
		return nil, domain.ErrAccountLocked
	}

	if user.PasswordHash == nil || !password.Verify(req.Password, *user.PasswordHash) {
		if err := s.registerFailure(ctx, user, now); err != nil {
			return nil, err
		}
		return nil, domain.ErrInvalidCredentials
	}

	if err := s.repo.RecordSuccessfulLogin(ctx, user.ID, now); err != nil {
		return nil, err
	}
	s.upgradeHash(ctx, user, req.Password)

	rawToken, err := s.tokenGen.NewToken()
	if err != nil {
		return nil, err
	}

	session := &domain.Session{
		ID:               s.genID.Generate(),
		UserID:           user.ID,
		SessionTokenHash: opaque.Hash(rawToken),
		UserAgent:        strings.TrimSpace(req.UserAgent),
		IPAddress:        strings.TrimSpace(req.IPAddress),
		AuthTime:         now,
		ExpiresAt:        now.Add(sessionTTL),
		CreatedAt:        now,
		LastSeenAt:       now,
	}
	if err := s.sessionRepo.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	return &domain.LoginResult{
		Session: &domain.SessionView{
			UserID:      user.ID.String(),
			Username:    user.Username,
			DisplayName: user.DisplayName,
			ExpiresAt:   session.ExpiresAt,
		},
		RawToken:  rawToken,
		ExpiresAt: session.ExpiresAt,
		SessionID: session.ID,
		UserID:    user.ID,
	}, nil
}

// upgradeHash replaces a hash made with older Argon2 settings. Failure
// leaves the old hash in place.
func (s *Service) upgradeHash(ctx context.Context, user *domain.User, plain string) {
	if user.PasswordHash == nil || !password.NeedsRehash(*user.PasswordHash) {
		return
	}
	hashed, err := password.Hash(plain)
	if err == nil {
		err = s.repo.UpdateFields(ctx, user.ID, map[string]any{"password_hash": hashed})
	}
	if err != nil {
		s.log.Warn("password rehash failed", zap.String("user_id", user.ID.String()), zap.Error(err))
	}
}

func (s *Service) registerFailure(ctx context.Context, user *domain.User, now time.Time) error {
	lockout := s.policy.Get().Lockout
	locked, err := s.repo.RegisterFailedLogin(ctx, user.ID, lockout.MaxFailedAttempts, now.Add(lockout.Duration))
	if err != nil {
		return err
	}
	if !locked {
		return nil
	}

	s.log.Warn("account locked",
		zap.String("user_id", user.ID.String()),
		zap.Duration("duration", lockout.Duration),
	)
	if s.audit != nil {
		_ = s.audit.Emit(ctx, auditdomain.Record{
			ActorType:  auditdomain.ActorTypeUser,
			ActorID:    user.ID.String(),
			Action:     auditdomain.ActionAccountLocked,
			Outcome:    auditdomain.OutcomeDenied,
			TargetType: "user",
			TargetID:   user.ID.String(),
			Details: map[string]any{
				"max_failed_attempts": lockout.MaxFailedAttempts,
				"locked_until":        now.Add(lockout.Duration).Format(time.RFC3339),
			},
		})
	}
	return nil
}

func (s *Service) Logout(ctx context.Context, rawToken string) error {
	token := strings.TrimSpace(rawToken)
	if token == "" {
		return domain.ErrInvalidSession
	}

	session, err := s.sessionRepo.GetSessionByTokenHash(ctx, opaque.Hash(token))
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return domain.ErrInvalidSession
		}
		return err
	}

	err = s.sessionRepo.RevokeSession(ctx, session.ID, s.clock.Now())
	if errors.Is(err, domain.ErrSessionNotFound) {
		return domain.ErrInvalidSession
	}
	return err
}

func (s *Service) Authenticate(ctx context.Context, rawToken string) (*domain.Session, error) {
	token := strings.TrimSpace(rawToken)
	if token == "" {
		return nil, domain.ErrInvalidSession
	}

	session, err := s.sessionRepo.GetSessionByTokenHash(ctx, opaque.Hash(token))
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, domain.ErrInvalidSession
		}
		return nil, err
	}

	now := s.clock.Now()
	if session.RevokedAt != nil {
		return nil, domain.ErrSessionRevoked
	}
	if !now.Before(session.ExpiresAt) {
		return nil, domain.ErrSessionExpired
	}

	active, err := s.IsActive(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, domain.ErrUserInactive
	}

	if err := s.sessionRepo.UpdateLastSeen(ctx, session.ID, now); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Service) GetUser(ctx context.Context, id snowflake.ID) (*domain.User, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *Service) IsActive(ctx context.Context, id snowflake.ID) (bool, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return false, nil
		}
		return false, err
	}
	return user.Active, nil
}

// Deactivate disables the account and revokes its sessions.
func (s *Service) Deactivate(ctx context.Context, id snowflake.ID) error {
	now := s.clock.Now()
	if err := s.repo.UpdateFields(ctx, id, map[string]any{
		"active":     false,
		"updated_at": now,
	}); err != nil {
		return err
	}
	revoked, err := s.sessionRepo.RevokeUserSessions(ctx, id, now)
	if err != nil {
		return err
	}
	s.log.Info("user deactivated",
		zap.String("user_id", id.String()),
		zap.Int64("sessions_revoked", revoked),
	)
	return nil
}

func (s *Service) ChangePassword(ctx context.Context, id snowflake.ID, newPassword string) error {
	if len(newPassword) < minPasswordLength {
		return domain.ErrWeakPassword
	}
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		return err
	}

	hashed, err := password.Hash(newPassword)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	return s.repo.UpdateFields(ctx, id, map[string]any{
		"password_hash":         hashed,
		"last_password_changed": now,
		"updated_at":            now,
	})
}

func (s *Service) PurgeExpiredSessions(ctx context.Context, before time.Time, limit int) (int64, error) {
	return s.sessionRepo.PurgeExpiredSessions(ctx, before, limit)
}

// burnHash spends the same work on unknown usernames as on a real check.
func (s *Service) burnHash(secret string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = password.Hash("gatekeeper-dummy-password")
	})
	if s.dummyHash != "" {
		password.Verify(secret, s.dummyHash)
	}
}

func normalizeUsername(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
