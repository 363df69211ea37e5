package consent

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Grant records that a user approved a client for a set of scopes.
type Grant struct {
	UserID    snowflake.ID `gorm:"column:user_id;primaryKey"`
	ClientID  string       `gorm:"column:client_id;type:text;primaryKey"`
	Scopes    []string     `gorm:"column:scopes;type:json;serializer:json"`
	CreatedAt time.Time    `gorm:"column:created_at;not null"`
	UpdatedAt time.Time    `gorm:"column:updated_at;not null"`
}

func (Grant) TableName() string { return "oauth_consent_grants" }
