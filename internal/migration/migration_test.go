package migration

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	authdomain "github.com/smallbiznis/gatekeeper/internal/auth/domain"
	authrepository "github.com/smallbiznis/gatekeeper/internal/auth/repository"
	authservice "github.com/smallbiznis/gatekeeper/internal/auth/service"
	"github.com/smallbiznis/gatekeeper/internal/clock"
	"github.com/smallbiznis/gatekeeper/internal/config"
	"github.com/smallbiznis/gatekeeper/internal/oauth/client"
	"github.com/smallbiznis/gatekeeper/internal/rbac"
	"github.com/smallbiznis/gatekeeper/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type bootstrapEnv struct {
	conn    *gorm.DB
	repo    authdomain.Repository
	rbac    *rbac.Service
	clients *client.Service
	userSvc authdomain.Service
	clock   *clock.FakeClock
	bootCfg config.BootstrapConfig
}

func newBootstrapEnv(t *testing.T, bootCfg config.BootstrapConfig) *bootstrapEnv {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, Migrate(conn, "sqlite"))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	repo, sessions := authrepository.New(conn, db.Config{})
	users := authservice.New(authservice.Params{
		Log:         log,
		Repo:        repo,
		SessionRepo: sessions,
		GenID:       node,
		Clock:       clk,
		Policy:      config.NewStaticPolicyHolder(config.DefaultSecurityPolicy()),
	})
	store := rbac.NewStore(conn, db.Config{})
	resolver := rbac.NewResolver(rbac.ResolverParams{
		Config: config.Config{PermissionCacheTTL: time.Minute},
		Store:  store,
		Cache:  rbac.NewMemoryCache(clk),
		Log:    log,
	})
	rbacSvc := rbac.NewService(rbac.ServiceParams{
		Store:    store,
		Resolver: resolver,
		Users:    users,
		GenID:    node,
		Clock:    clk,
		Log:      log,
	})
	clients := client.NewService(client.NewStore(conn, db.Config{}), clk, log)

	return &bootstrapEnv{
		conn:    conn,
		repo:    repo,
		rbac:    rbacSvc,
		clients: clients,
		userSvc: users,
		clock:   clk,
		bootCfg: bootCfg,
	}
}

func (e *bootstrapEnv) bootstrapper() *Bootstrapper {
	return NewBootstrapper(BootstrapParams{
		Config:   config.Config{Bootstrap: e.bootCfg},
		Users:    e.userSvc,
		UserRepo: e.repo,
		RBAC:     e.rbac,
		Clients:  e.clients,
		Log:      zap.NewNop(),
	})
}

func TestMigrateCreatesEveryTable(t *testing.T) {
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, Migrate(conn, "sqlite"))

	for _, model := range Models() {
		assert.True(t, conn.Migrator().HasTable(model), "missing table for %T", model)
	}
	// A second run is a no-op.
	require.NoError(t, Migrate(conn, "sqlite"))
}

func TestMigrateRejectsNilHandle(t *testing.T) {
	require.Error(t, Migrate(nil, "sqlite"))
	require.Error(t, RunMigrations(nil))
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := embeddedMigrations.ReadDir(migrationsDir)
	require.NoError(t, err)

	var up, down int
	for _, entry := range entries {
		switch {
		case strings.HasSuffix(entry.Name(), ".up.sql"):
			up++
		case strings.HasSuffix(entry.Name(), ".down.sql"):
			down++
		}
	}
	assert.Positive(t, up)
	assert.Equal(t, up, down)
}

func TestBootstrapSeedsAdminAndClientIdempotently(t *testing.T) {
	env := newBootstrapEnv(t, config.BootstrapConfig{
		AdminUsername:      " Root ",
		AdminPassword:      "correct-horse-battery",
		ClientID:           "console",
		ClientRedirectURIs: []string{"https://console.example.com/callback"},
		ClientScopes:       []string{"openid", "profile"},
	})
	ctx := context.Background()

	require.NoError(t, env.bootstrapper().Run(ctx))
	require.NoError(t, env.bootstrapper().Run(ctx))

	user, err := env.repo.FindByUsername(ctx, "root")
	require.NoError(t, err)

	var count int64
	require.NoError(t, env.conn.Model(&authdomain.User{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	perms, err := env.rbac.EffectivePermissions(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{AdminRole}, perms.Roles)
	assert.Equal(t, []string{"*"}, perms.Permissions)

	c, err := env.clients.Get(ctx, "console")
	require.NoError(t, err)
	assert.True(t, c.IsPublic())
	assert.True(t, c.PKCERequired())
	assert.Equal(t, client.AuthMethodNone, c.TokenEndpointAuthMethod)
	assert.True(t, c.AllowsRedirectURI("https://console.example.com/callback"))
}

func TestBootstrapConfidentialClientAuthenticates(t *testing.T) {
	env := newBootstrapEnv(t, config.BootstrapConfig{
		ClientID:           "backend",
		ClientSecret:       "s3cret-value",
		ClientRedirectURIs: []string{"https://backend.example.com/cb"},
		ClientScopes:       []string{"openid"},
	})
	ctx := context.Background()

	require.NoError(t, env.bootstrapper().Run(ctx))

	c, err := env.clients.Authenticate(ctx, client.Credentials{ID: "backend", Secret: "s3cret-value"})
	require.NoError(t, err)
	assert.False(t, c.IsPublic())

	_, err = env.clients.Authenticate(ctx, client.Credentials{ID: "backend", Secret: "wrong"})
	assert.ErrorIs(t, err, client.ErrInvalidClient)
}

func TestBootstrapSkipsWhenUnconfigured(t *testing.T) {
	env := newBootstrapEnv(t, config.BootstrapConfig{AdminUsername: "root"})

	require.NoError(t, env.bootstrapper().Run(context.Background()))

	var count int64
	require.NoError(t, env.conn.Model(&authdomain.User{}).Count(&count).Error)
	assert.Zero(t, count)
	require.NoError(t, env.conn.Model(&client.Client{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestBootstrapRejectsWeakAdminPassword(t *testing.T) {
	env := newBootstrapEnv(t, config.BootstrapConfig{AdminUsername: "root", AdminPassword: "short"})

	err := env.bootstrapper().Run(context.Background())
	assert.ErrorIs(t, err, authdomain.ErrWeakPassword)
}
