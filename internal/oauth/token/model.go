package token

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	RevokedReasonRotated = "rotated"
	RevokedReasonRevoked = "revoked"
	RevokedReasonReuse   = "reuse_detected"
)

// RefreshToken is a persisted refresh token. Tokens descending from the same
// authorization share a ChainID; ParentID points at the token it replaced.
type RefreshToken struct {
	ID            string       `gorm:"column:id;type:text;primaryKey"`
	TokenHash     string       `gorm:"column:token_hash;type:text;not null;uniqueIndex"`
	ChainID       string       `gorm:"column:chain_id;type:text;not null;index"`
	ParentID      *string      `gorm:"column:parent_id;type:text"`
	ClientID      string       `gorm:"column:client_id;type:text;not null;index"`
	UserID        snowflake.ID `gorm:"column:user_id;not null;index"`
	Scopes        []string     `gorm:"column:scopes;type:json;serializer:json"`
	AccessTokenID string       `gorm:"column:access_token_id;type:text;not null"`
	AuthTime      time.Time    `gorm:"column:auth_time;not null"`
	ExpiresAt     time.Time    `gorm:"column:expires_at;not null;index"`
	RevokedAt     *time.Time   `gorm:"column:revoked_at"`
	RevokedReason *string      `gorm:"column:revoked_reason;type:text"`
	CreatedAt     time.Time    `gorm:"column:created_at;not null"`
}

func (RefreshToken) TableName() string { return "oauth_refresh_tokens" }

// RevokedAccessToken blacklists an access token id until the token would
// have expired on its own.
type RevokedAccessToken struct {
	JTI       string    `gorm:"column:jti;type:text;primaryKey"`
	ClientID  string    `gorm:"column:client_id;type:text;not null"`
	Subject   string    `gorm:"column:subject;type:text;not null"`
	ExpiresAt time.Time `gorm:"column:expires_at;not null;index"`
	RevokedAt time.Time `gorm:"column:revoked_at;not null"`
}

func (RevokedAccessToken) TableName() string { return "oauth_revoked_access_tokens" }
