// Package domain contains core types for the auth service.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// User represents a system user account.
type User struct {
	ID                  snowflake.ID `gorm:"primaryKey"`
	Username            string       `gorm:"type:text;not null;uniqueIndex"`
	Email               *string      `gorm:"column:email;type:text;uniqueIndex"`
	DisplayName         string       `gorm:"column:display_name;type:text"`
	PasswordHash        *string      `gorm:"type:text"`
	Active              bool         `gorm:"column:active;not null"`
	FailedAttempts      int          `gorm:"column:failed_attempts;not null;default:0"`
	LockedUntil         *time.Time   `gorm:"column:locked_until"`
	LastLoginAt         *time.Time   `gorm:"column:last_login_at"`
	LastPasswordChanged *time.Time   `gorm:"column:last_password_changed"`
	CreatedAt           time.Time    `gorm:"not null"`
	UpdatedAt           time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }

// IsLocked reports whether a lockout is in force at now.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// Session represents a persisted login session.
type Session struct {
	ID               snowflake.ID `gorm:"primaryKey"`
	UserID           snowflake.ID `gorm:"column:user_id;not null;index"`
	SessionTokenHash string       `gorm:"column:session_token_hash;type:text;not null;uniqueIndex"`
	UserAgent        string       `gorm:"column:user_agent;type:text"`
	IPAddress        string       `gorm:"column:ip_address;type:text"`
	AuthTime         time.Time    `gorm:"column:auth_time;not null"`
	ExpiresAt        time.Time    `gorm:"column:expires_at;not null;index"`
	RevokedAt        *time.Time   `gorm:"column:revoked_at"`
	CreatedAt        time.Time    `gorm:"column:created_at;not null"`
	LastSeenAt       time.Time    `gorm:"column:last_seen_at;not null"`
}

// TableName sets the database table name.
func (Session) TableName() string { return "sessions" }

// SessionView is returned to clients without exposing token values.
type SessionView struct {
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}
