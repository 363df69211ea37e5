package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/gatekeeper/internal/audit/domain"
	authdomain "github.com/smallbiznis/gatekeeper/internal/auth/domain"
	"github.com/smallbiznis/gatekeeper/internal/auth/password"
	"github.com/smallbiznis/gatekeeper/internal/auth/repository"
	"github.com/smallbiznis/gatekeeper/internal/clock"
	"github.com/smallbiznis/gatekeeper/internal/config"
	"github.com/smallbiznis/gatekeeper/pkg/db"
	"go.uber.org/zap"
)

type recordingEmitter struct {
	records []auditdomain.Record
}

func (e *recordingEmitter) Emit(_ context.Context, rec auditdomain.Record) error {
	e.records = append(e.records, rec)
	return nil
}

func newTestService(t *testing.T) (authdomain.Service, *clock.FakeClock, *recordingEmitter) {
	t.Helper()

	dbConn, err := db.NewTest()
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := dbConn.AutoMigrate(&authdomain.User{}, &authdomain.Session{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	repo, sessionRepo := repository.New(dbConn, db.Config{StoreTimeout: 2 * time.Second})
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("failed to create snowflake node: %v", err)
	}

	policy := config.DefaultSecurityPolicy()
	policy.Lockout.MaxFailedAttempts = 3
	policy.Lockout.Duration = 10 * time.Minute

	clk := clock.NewFakeClock(time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC))
	emitter := &recordingEmitter{}
	svc := New(Params{
		Log:         zap.NewNop(),
		Repo:        repo,
		SessionRepo: sessionRepo,
		GenID:       node,
		Clock:       clk,
		Policy:      config.NewStaticPolicyHolder(policy),
		Audit:       emitter,
	})
	return svc, clk, emitter
}

func mustCreateUser(t *testing.T, svc authdomain.Service, username string) *authdomain.User {
	t.Helper()
	user, err := svc.CreateUser(context.Background(), authdomain.CreateUserRequest{
		Username: username,
		Password: "correct-password",
	})
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	return user
}

func TestLoginWrongPassword(t *testing.T) {
	svc, _, _ := newTestService(t)
	mustCreateUser(t, svc, "alice")

	_, err := svc.Login(context.Background(), authdomain.LoginRequest{
		Username: "alice",
		Password: "wrong-password",
	})
	if err != authdomain.ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	_, err = svc.Login(context.Background(), authdomain.LoginRequest{
		Username: "nobody",
		Password: "wrong-password",
	})
	if err != authdomain.ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestLoginSessionLifecycle(t *testing.T) {
	svc, clk, _ := newTestService(t)
	ctx := context.Background()
	user := mustCreateUser(t, svc, "Bob")
	if user.Username != "bob" {
		t.Fatalf("expected normalized username, got %s", user.Username)
	}

	result, err := svc.Login(ctx, authdomain.LoginRequest{Username: "BOB", Password: "correct-password"})
	if err != nil {
		t.Fatalf("expected login success, got %v", err)
	}
	if result.RawToken == "" {
		t.Fatal("expected session token")
	}

	session, err := svc.Authenticate(ctx, result.RawToken)
	if err != nil {
		t.Fatalf("expected session, got %v", err)
	}
	if session.UserID != user.ID {
		t.Fatalf("expected user %v, got %v", user.ID, session.UserID)
	}
	if !session.AuthTime.Equal(clk.Now()) {
		t.Fatalf("expected auth time %v, got %v", clk.Now(), session.AuthTime)
	}

	if err := svc.Logout(ctx, result.RawToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := svc.Authenticate(ctx, result.RawToken); err != authdomain.ErrSessionRevoked {
		t.Fatalf("expected ErrSessionRevoked, got %v", err)
	}
	if err := svc.Logout(ctx, result.RawToken); err != authdomain.ErrInvalidSession {
		t.Fatalf("expected ErrInvalidSession on second logout, got %v", err)
	}
}

func TestSessionExpires(t *testing.T) {
	svc, clk, _ := newTestService(t)
	ctx := context.Background()
	mustCreateUser(t, svc, "carol")

	result, err := svc.Login(ctx, authdomain.LoginRequest{Username: "carol", Password: "correct-password"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	clk.Advance(sessionTTL)
	if _, err := svc.Authenticate(ctx, result.RawToken); err != authdomain.ErrSessionExpired {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}

	purged, err := svc.PurgeExpiredSessions(ctx, clk.Now().Add(time.Second), 10)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged session, got %d", purged)
	}
}

func TestLockoutAfterRepeatedFailures(t *testing.T) {
	svc, clk, emitter := newTestService(t)
	ctx := context.Background()
	mustCreateUser(t, svc, "dave")

	for i := 0; i < 3; i++ {
		_, err := svc.Login(ctx, authdomain.LoginRequest{Username: "dave", Password: "bad-password"})
		if err != authdomain.ErrInvalidCredentials {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}

	_, err := svc.Login(ctx, authdomain.LoginRequest{Username: "dave", Password: "correct-password"})
	if err != authdomain.ErrAccountLocked {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}
	if len(emitter.records) != 1 || emitter.records[0].Action != auditdomain.ActionAccountLocked {
		t.Fatalf("expected one lockout audit record, got %+v", emitter.records)
	}

	clk.Advance(10 * time.Minute)
	if _, err := svc.Login(ctx, authdomain.LoginRequest{Username: "dave", Password: "correct-password"}); err != nil {
		t.Fatalf("expected login after lockout expiry, got %v", err)
	}
}

func TestSuccessfulLoginResetsFailureCounter(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	mustCreateUser(t, svc, "erin")

	for round := 0; round < 3; round++ {
		for i := 0; i < 2; i++ {
			_, _ = svc.Login(ctx, authdomain.LoginRequest{Username: "erin", Password: "bad-password"})
		}
		if _, err := svc.Login(ctx, authdomain.LoginRequest{Username: "erin", Password: "correct-password"}); err != nil {
			t.Fatalf("round %d: expected success, got %v", round, err)
		}
	}
}

func TestDeactivateRevokesSessions(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	user := mustCreateUser(t, svc, "frank")

	result, err := svc.Login(ctx, authdomain.LoginRequest{Username: "frank", Password: "correct-password"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := svc.Deactivate(ctx, user.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := svc.Authenticate(ctx, result.RawToken); err != authdomain.ErrSessionRevoked {
		t.Fatalf("expected ErrSessionRevoked, got %v", err)
	}
	if _, err := svc.Login(ctx, authdomain.LoginRequest{Username: "frank", Password: "correct-password"}); err != authdomain.ErrUserInactive {
		t.Fatalf("expected ErrUserInactive, got %v", err)
	}
	active, err := svc.IsActive(ctx, user.ID)
	if err != nil || active {
		t.Fatalf("expected inactive user, got active=%v err=%v", active, err)
	}
	if err := svc.Deactivate(ctx, snowflake.ID(1)); err != authdomain.ErrUserNotFound {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestCreateUserValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	mustCreateUser(t, svc, "grace")

	if _, err := svc.CreateUser(ctx, authdomain.CreateUserRequest{Username: "grace", Password: "another-password"}); err != authdomain.ErrUserExists {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
	if _, err := svc.CreateUser(ctx, authdomain.CreateUserRequest{Username: "henry", Password: "short"}); err != authdomain.ErrWeakPassword {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	if _, err := svc.CreateUser(ctx, authdomain.CreateUserRequest{Username: " ", Password: "long-enough"}); err != authdomain.ErrInvalidUsername {
		t.Fatalf("expected ErrInvalidUsername, got %v", err)
	}
}

func TestLoginUpgradesOutdatedHash(t *testing.T) {
	svc, _, _ := newTestService(t)
	user := mustCreateUser(t, svc, "heidi")
	ctx := context.Background()

	weaker := password.Current
	weaker.Memory = 8 * 1024
	old, err := password.HashWith("correct-password", weaker)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := svc.(*Service).repo.UpdateFields(ctx, user.ID, map[string]any{"password_hash": old}); err != nil {
		t.Fatalf("update hash: %v", err)
	}

	if _, err := svc.Login(ctx, authdomain.LoginRequest{Username: "heidi", Password: "correct-password"}); err != nil {
		t.Fatalf("login: %v", err)
	}

	stored, err := svc.GetUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if stored.PasswordHash == nil || *stored.PasswordHash == old {
		t.Fatal("expected the hash to be replaced")
	}
	if password.NeedsRehash(*stored.PasswordHash) {
		t.Fatal("expected the new hash to use current settings")
	}
	if !password.Verify("correct-password", *stored.PasswordHash) {
		t.Fatal("expected the new hash to verify")
	}
}
