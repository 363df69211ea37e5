package migration

import (
	"context"
	"errors"
	"strings"

	authdomain "github.com/smallbiznis/gatekeeper/internal/auth/domain"
	"github.com/smallbiznis/gatekeeper/internal/config"
	"github.com/smallbiznis/gatekeeper/internal/oauth/client"
	"github.com/smallbiznis/gatekeeper/internal/rbac"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	AdminRole       = "admin"
	adminPermission = "*"
)

type BootstrapParams struct {
	fx.In

	Config   config.Config
	Users    authdomain.Service
	UserRepo authdomain.Repository
	RBAC     *rbac.Service
	Clients  *client.Service
	Log      *zap.Logger
}

// Bootstrapper seeds the first administrator and client. Every step is
// idempotent so it can run on each start.
type Bootstrapper struct {
	cfg      config.BootstrapConfig
	users    authdomain.Service
	userRepo authdomain.Repository
	rbac     *rbac.Service
	clients  *client.Service
	log      *zap.Logger
}

func NewBootstrapper(p BootstrapParams) *Bootstrapper {
	return &Bootstrapper{
		cfg:      p.Config.Bootstrap,
		users:    p.Users,
		userRepo: p.UserRepo,
		rbac:     p.RBAC,
		clients:  p.Clients,
		log:      p.Log.Named("bootstrap"),
	}
}

func (b *Bootstrapper) Run(ctx context.Context) error {
	if err := b.ensureAdmin(ctx); err != nil {
		return err
	}
	return b.ensureClient(ctx)
}

func (b *Bootstrapper) ensureAdmin(ctx context.Context) error {
	username := strings.ToLower(strings.TrimSpace(b.cfg.AdminUsername))
	if username == "" || b.cfg.AdminPassword == "" {
		return nil
	}

	user, err := b.userRepo.FindByUsername(ctx, username)
	if errors.Is(err, authdomain.ErrUserNotFound) {
		user, err = b.users.CreateUser(ctx, authdomain.CreateUserRequest{
			Username: username,
			Password: b.cfg.AdminPassword,
		})
		if err == nil {
			b.log.Info("bootstrap admin created", zap.String("username", username))
		}
	}
	if err != nil {
		return err
	}

	if _, err := b.rbac.EnsureRole(ctx, AdminRole); err != nil {
		return err
	}
	if err := b.rbac.GrantPermission(ctx, AdminRole, adminPermission); err != nil {
		return err
	}
	return b.rbac.AssignRole(ctx, user.ID, AdminRole)
}

func (b *Bootstrapper) ensureClient(ctx context.Context) error {
	id := strings.TrimSpace(b.cfg.ClientID)
	if id == "" {
		return nil
	}

	_, err := b.clients.Get(ctx, id)
	if err == nil {
		return nil
	}
	if !errors.Is(err, client.ErrClientNotFound) {
		return err
	}

	_, _, err = b.clients.Register(ctx, client.RegisterRequest{
		ID:             id,
		Secret:         b.cfg.ClientSecret,
		Public:         b.cfg.ClientSecret == "",
		RedirectURIs:   b.cfg.ClientRedirectURIs,
		Scopes:         b.cfg.ClientScopes,
		RequirePKCE:    true,
		RequireConsent: true,
	})
	if errors.Is(err, client.ErrClientExists) {
		return nil
	}
	if err != nil {
		return err
	}
	b.log.Info("bootstrap client registered", zap.String("client_id", id))
	return nil
}
