package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gatekeeper/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store reads and mutates the role graph.
type Store interface {
	// ResolvePermissions returns the distinct permission names reachable from
	// the user's roles, sorted by name. Inactive users resolve to nothing.
	ResolvePermissions(ctx context.Context, userID snowflake.ID) ([]string, error)
	RolesForUser(ctx context.Context, userID snowflake.ID) ([]string, error)
	FindRole(ctx context.Context, name string) (*Role, error)
	FindPermission(ctx context.Context, name string) (*Permission, error)
	CreateRole(ctx context.Context, role *Role) error
	CreatePermission(ctx context.Context, perm *Permission) error
	AssignRole(ctx context.Context, userID, roleID snowflake.ID, at time.Time) error
	UnassignRole(ctx context.Context, userID, roleID snowflake.ID) (bool, error)
	GrantPermission(ctx context.Context, roleID, permissionID snowflake.ID, at time.Time) error
	RemovePermission(ctx context.Context, roleID, permissionID snowflake.ID) (bool, error)
	UsersWithRole(ctx context.Context, roleID snowflake.ID) ([]snowflake.ID, error)
}

type gormStore struct {
	db      *gorm.DB
	timeout time.Duration
}

func NewStore(conn *gorm.DB, cfg db.Config) Store {
	return &gormStore{db: conn, timeout: cfg.StoreTimeout}
}

func (s *gormStore) ResolvePermissions(ctx context.Context, userID snowflake.ID) ([]string, error) {
	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	names := []string{}
	err := s.db.WithContext(ctx).
		Table("permissions AS p").
		Joins("JOIN role_permissions rp ON rp.permission_id = p.id").
		Joins("JOIN user_roles ur ON ur.role_id = rp.role_id").
		Joins("JOIN users u ON u.id = ur.user_id").
		Where("ur.user_id = ? AND u.active = ?", userID, true).
		Distinct().
		Order("p.name ASC").
		Pluck("p.name", &names).Error
	if err != nil {
		return nil, fmt.Errorf("resolve permissions: %w", err)
	}
	return names, nil
}

func (s *gormStore) RolesForUser(ctx context.Context, userID snowflake.ID) ([]string, error) {
	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	names := []string{}
	err := s.db.WithContext(ctx).
		Table("roles AS r").
		Joins("JOIN user_roles ur ON ur.role_id = r.id").
		Where("ur.user_id = ?", userID).
		Order("r.name ASC").
		Pluck("r.name", &names).Error
	if err != nil {
		return nil, fmt.Errorf("list user roles: %w", err)
	}
	return names, nil
}

func (s *gormStore) FindRole(ctx context.Context, name string) (*Role, error) {
	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	var role Role
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&role).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find role: %w", err)
	}
	return &role, nil
}

func (s *gormStore) FindPermission(ctx context.Context, name string) (*Permission, error) {
	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	var perm Permission
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&perm).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPermissionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find permission: %w", err)
	}
	return &perm, nil
}

func (s *gormStore) CreateRole(ctx context.Context, role *Role) error {
	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.db.WithContext(ctx).Create(role).Error
	if db.IsDuplicateKeyErr(err) {
		return ErrRoleExists
	}
	if err != nil {
		return fmt.Errorf("create role: %w", err)
	}
	return nil
}

func (s *gormStore) CreatePermission(ctx context.Context, perm *Permission) error {
	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.db.WithContext(ctx).Create(perm).Error; err != nil {
		return fmt.Errorf("create permission: %w", err)
	}
	return nil
}

// AssignRole is idempotent.
func (s *gormStore) AssignRole(ctx context.Context, userID, roleID snowflake.ID, at time.Time) error {
	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&UserRole{UserID: userID, RoleID: roleID, CreatedAt: at}).Error
	if err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	return nil
}

func (s *gormStore) UnassignRole(ctx context.Context, userID, roleID snowflake.ID) (bool, error) {
	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	res := s.db.WithContext(ctx).
		Where("user_id = ? AND role_id = ?", userID, roleID).
		Delete(&UserRole{})
	if res.Error != nil {
		return false, fmt.Errorf("unassign role: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *gormStore) GrantPermission(ctx context.Context, roleID, permissionID snowflake.ID, at time.Time) error {
	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&RolePermission{RoleID: roleID, PermissionID: permissionID, CreatedAt: at}).Error
	if err != nil {
		return fmt.Errorf("grant permission: %w", err)
	}
	return nil
}

func (s *gormStore) RemovePermission(ctx context.Context, roleID, permissionID snowflake.ID) (bool, error) {
	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	res := s.db.WithContext(ctx).
		Where("role_id = ? AND permission_id = ?", roleID, permissionID).
		Delete(&RolePermission{})
	if res.Error != nil {
		return false, fmt.Errorf("remove permission: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *gormStore) UsersWithRole(ctx context.Context, roleID snowflake.ID) ([]snowflake.ID, error) {
	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	var ids []snowflake.ID
	err := s.db.WithContext(ctx).
		Model(&UserRole{}).
		Where("role_id = ?", roleID).
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list role members: %w", err)
	}
	return ids, nil
}
