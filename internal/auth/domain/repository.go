package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Repository interface {
	Count(ctx context.Context) (int64, error)
	Create(ctx context.Context, user *User) error
	FindByID(ctx context.Context, id snowflake.ID) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	UpdateFields(ctx context.Context, id snowflake.ID, fields map[string]any) error
	// RegisterFailedLogin increments the failure counter atomically and sets
	// locked_until once the counter reaches maxAttempts. It reports whether
	// this call applied the lock.
	RegisterFailedLogin(ctx context.Context, id snowflake.ID, maxAttempts int, lockUntil time.Time) (bool, error)
	RecordSuccessfulLogin(ctx context.Context, id snowflake.ID, at time.Time) error
}

type SessionRepository interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (*Session, error)
	UpdateLastSeen(ctx context.Context, sessionID snowflake.ID, lastSeen time.Time) error
	RevokeSession(ctx context.Context, sessionID snowflake.ID, revokedAt time.Time) error
	RevokeUserSessions(ctx context.Context, userID snowflake.ID, revokedAt time.Time) (int64, error)
	PurgeExpiredSessions(ctx context.Context, before time.Time, limit int) (int64, error)
}
