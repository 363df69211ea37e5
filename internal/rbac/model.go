package rbac

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Role groups permissions. Users hold roles, never permissions directly.
type Role struct {
	ID          snowflake.ID `gorm:"column:id;primaryKey"`
	Name        string       `gorm:"column:name;type:text;not null;uniqueIndex"`
	Description string       `gorm:"column:description;type:text"`
	CreatedAt   time.Time    `gorm:"column:created_at;not null"`
}

func (Role) TableName() string { return "roles" }

type Permission struct {
	ID          snowflake.ID `gorm:"column:id;primaryKey"`
	Name        string       `gorm:"column:name;type:text;not null;uniqueIndex"`
	Description string       `gorm:"column:description;type:text"`
	CreatedAt   time.Time    `gorm:"column:created_at;not null"`
}

func (Permission) TableName() string { return "permissions" }

type UserRole struct {
	UserID    snowflake.ID `gorm:"column:user_id;primaryKey"`
	RoleID    snowflake.ID `gorm:"column:role_id;primaryKey;index"`
	CreatedAt time.Time    `gorm:"column:created_at;not null"`
}

func (UserRole) TableName() string { return "user_roles" }

type RolePermission struct {
	RoleID       snowflake.ID `gorm:"column:role_id;primaryKey"`
	PermissionID snowflake.ID `gorm:"column:permission_id;primaryKey;index"`
	CreatedAt    time.Time    `gorm:"column:created_at;not null"`
}

func (RolePermission) TableName() string { return "role_permissions" }

// Models lists the tables owned by this package, in creation order.
func Models() []any {
	return []any{&Role{}, &Permission{}, &UserRole{}, &RolePermission{}}
}
