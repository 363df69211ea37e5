package code

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// AuthorizationCode stores an issued authorization code. Only the SHA-256
// of the raw code is kept.
type AuthorizationCode struct {
	CodeHash            string       `gorm:"column:code_hash;type:text;primaryKey"`
	ClientID            string       `gorm:"column:client_id;type:text;not null;index"`
	UserID              snowflake.ID `gorm:"column:user_id;not null;index"`
	RedirectURI         string       `gorm:"column:redirect_uri;type:text;not null"`
	Scopes              []string     `gorm:"column:scopes;type:json;serializer:json"`
	CodeChallenge       string       `gorm:"column:code_challenge;type:text"`
	CodeChallengeMethod string       `gorm:"column:code_challenge_method;type:text"`
	Nonce               string       `gorm:"column:nonce;type:text"`
	AuthTime            time.Time    `gorm:"column:auth_time;not null"`
	ExpiresAt           time.Time    `gorm:"column:expires_at;not null;index"`
	ConsumedAt          *time.Time   `gorm:"column:consumed_at"`
	CreatedAt           time.Time    `gorm:"column:created_at;not null"`
}

func (AuthorizationCode) TableName() string { return "oauth_authorization_codes" }

// Grant is what a successfully consumed code yields.
type Grant struct {
	UserID   snowflake.ID
	ClientID string
	Scopes   []string
	Nonce    string
	AuthTime time.Time
}
