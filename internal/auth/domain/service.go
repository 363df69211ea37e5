package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	CreateUser(ctx context.Context, req CreateUserRequest) (*User, error)
	Login(ctx context.Context, req LoginRequest) (*LoginResult, error)
	Logout(ctx context.Context, rawToken string) error
	Authenticate(ctx context.Context, rawToken string) (*Session, error)
	GetUser(ctx context.Context, id snowflake.ID) (*User, error)
	IsActive(ctx context.Context, id snowflake.ID) (bool, error)
	Deactivate(ctx context.Context, id snowflake.ID) error
	ChangePassword(ctx context.Context, id snowflake.ID, newPassword string) error
	PurgeExpiredSessions(ctx context.Context, before time.Time, limit int) (int64, error)
}

type CreateUserRequest struct {
	Username    string
	Email       string
	Password    string
	DisplayName string
}

type LoginRequest struct {
	Username  string
	Password  string
	UserAgent string
	IPAddress string
}

type LoginResult struct {
	Session   *SessionView
	RawToken  string
	ExpiresAt time.Time
	SessionID snowflake.ID
	UserID    snowflake.ID
}
