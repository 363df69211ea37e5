package rbac

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	authdomain "github.com/smallbiznis/gatekeeper/internal/auth/domain"
	"github.com/smallbiznis/gatekeeper/internal/auth/scope"
	"github.com/smallbiznis/gatekeeper/internal/clock"
	"github.com/smallbiznis/gatekeeper/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const maxNameLength = 128

// UserDirectory is the slice of the user service the admin operations need.
type UserDirectory interface {
	GetUser(ctx context.Context, id snowflake.ID) (*authdomain.User, error)
	Deactivate(ctx context.Context, id snowflake.ID) error
}

type ServiceParams struct {
	fx.In

	Store    Store
	Resolver *Resolver
	Users    UserDirectory
	GenID    *snowflake.Node
	Clock    clock.Clock
	Log      *zap.Logger
}

// Service mutates the role graph. Every mutation invalidates the cached
// permissions of each affected user once the write has committed.
type Service struct {
	store    Store
	resolver *Resolver
	users    UserDirectory
	genID    *snowflake.Node
	clock    clock.Clock
	log      *zap.Logger
}

type EffectivePermissions struct {
	UserID      string   `json:"user_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		store:    p.Store,
		resolver: p.Resolver,
		users:    p.Users,
		genID:    p.GenID,
		clock:    p.Clock,
		log:      p.Log.Named("rbac.service"),
	}
}

// EnsureRole returns the named role, creating it when missing.
func (s *Service) EnsureRole(ctx context.Context, name string) (*Role, error) {
	name, err := normalizeName(name)
	if err != nil {
		return nil, err
	}
	role, err := s.store.FindRole(ctx, name)
	if err == nil {
		return role, nil
	}
	if !errors.Is(err, ErrRoleNotFound) {
		return nil, err
	}
	role = &Role{ID: s.genID.Generate(), Name: name, CreatedAt: s.clock.Now()}
	if err := s.store.CreateRole(ctx, role); err != nil {
		if errors.Is(err, ErrRoleExists) {
			return s.store.FindRole(ctx, name)
		}
		return nil, err
	}
	return role, nil
}

func (s *Service) CreateRole(ctx context.Context, name, description string) (*Role, error) {
	name, err := normalizeName(name)
	if err != nil {
		return nil, err
	}
	role := &Role{
		ID:          s.genID.Generate(),
		Name:        name,
		Description: strings.TrimSpace(description),
		CreatedAt:   s.clock.Now(),
	}
	if err := s.store.CreateRole(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

func (s *Service) AssignRole(ctx context.Context, userID snowflake.ID, roleName string) error {
	if _, err := s.users.GetUser(ctx, userID); err != nil {
		return err
	}
	role, err := s.findRole(ctx, roleName)
	if err != nil {
		return err
	}
	if err := s.store.AssignRole(ctx, userID, role.ID, s.clock.Now()); err != nil {
		return err
	}
	s.log.Info("role assigned", zap.String("user_id", userID.String()), zap.String("role", role.Name))
	return s.resolver.Invalidate(ctx, userID)
}

func (s *Service) UnassignRole(ctx context.Context, userID snowflake.ID, roleName string) error {
	role, err := s.findRole(ctx, roleName)
	if err != nil {
		return err
	}
	removed, err := s.store.UnassignRole(ctx, userID, role.ID)
	if err != nil {
		return err
	}
	if removed {
		s.log.Info("role unassigned", zap.String("user_id", userID.String()), zap.String("role", role.Name))
	}
	return s.resolver.Invalidate(ctx, userID)
}

// GrantPermission attaches a permission to a role, creating the permission
// name on first use.
func (s *Service) GrantPermission(ctx context.Context, roleName, permission string) error {
	role, err := s.findRole(ctx, roleName)
	if err != nil {
		return err
	}
	perm, err := s.ensurePermission(ctx, permission)
	if err != nil {
		return err
	}
	if err := s.store.GrantPermission(ctx, role.ID, perm.ID, s.clock.Now()); err != nil {
		return err
	}
	return s.invalidateRole(ctx, role)
}

func (s *Service) RemovePermission(ctx context.Context, roleName, permission string) error {
	role, err := s.findRole(ctx, roleName)
	if err != nil {
		return err
	}
	name, err := normalizeName(permission)
	if err != nil {
		return err
	}
	perm, err := s.store.FindPermission(ctx, name)
	if err != nil {
		return err
	}
	if _, err := s.store.RemovePermission(ctx, role.ID, perm.ID); err != nil {
		return err
	}
	return s.invalidateRole(ctx, role)
}

// DeactivateUser disables the account, ends its sessions and drops its
// cached permissions.
func (s *Service) DeactivateUser(ctx context.Context, userID snowflake.ID) error {
	if err := s.users.Deactivate(ctx, userID); err != nil {
		return err
	}
	return s.resolver.Invalidate(ctx, userID)
}

func (s *Service) EffectivePermissions(ctx context.Context, userID snowflake.ID) (*EffectivePermissions, error) {
	if _, err := s.users.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	roles, err := s.store.RolesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	perms, err := s.resolver.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &EffectivePermissions{
		UserID:      userID.String(),
		Roles:       roles,
		Permissions: perms,
	}, nil
}

func (s *Service) findRole(ctx context.Context, name string) (*Role, error) {
	name, err := normalizeName(name)
	if err != nil {
		return nil, err
	}
	return s.store.FindRole(ctx, name)
}

func (s *Service) ensurePermission(ctx context.Context, name string) (*Permission, error) {
	name, err := normalizeName(name)
	if err != nil {
		return nil, err
	}
	perm, err := s.store.FindPermission(ctx, name)
	if err == nil {
		return perm, nil
	}
	if !errors.Is(err, ErrPermissionNotFound) {
		return nil, err
	}
	perm = &Permission{ID: s.genID.Generate(), Name: name, CreatedAt: s.clock.Now()}
	if err := s.store.CreatePermission(ctx, perm); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return s.store.FindPermission(ctx, name)
		}
		return nil, err
	}
	return perm, nil
}

func (s *Service) invalidateRole(ctx context.Context, role *Role) error {
	members, err := s.store.UsersWithRole(ctx, role.ID)
	if err != nil {
		return err
	}
	var firstErr error
	for _, userID := range members {
		if err := s.resolver.Invalidate(ctx, userID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func normalizeName(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || len(name) > maxNameLength {
		return "", ErrInvalidName
	}
	if err := scope.Validate([]string{name}); err != nil {
		return "", ErrInvalidName
	}
	return name, nil
}
