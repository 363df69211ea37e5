package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	auditdomain "github.com/smallbiznis/gatekeeper/internal/audit/domain"
	authdomain "github.com/smallbiznis/gatekeeper/internal/auth/domain"
	"github.com/smallbiznis/gatekeeper/internal/oauth/client"
	"github.com/smallbiznis/gatekeeper/internal/oauth/code"
	"github.com/smallbiznis/gatekeeper/internal/oauth/consent"
	"github.com/smallbiznis/gatekeeper/internal/oauth/token"
	"github.com/smallbiznis/gatekeeper/internal/rbac"
	"gorm.io/gorm"
)

// Models lists every table the server owns, in creation order. The casbin
// rule table is created by its adapter.
func Models() []any {
	models := []any{&authdomain.User{}, &authdomain.Session{}}
	models = append(models, rbac.Models()...)
	return append(models,
		&client.Client{},
		&code.AuthorizationCode{},
		&token.RefreshToken{},
		&token.RevokedAccessToken{},
		&consent.Grant{},
		&auditdomain.AuditLog{},
	)
}

// Migrate brings the schema up to date. Postgres runs the embedded SQL
// migrations; the other drivers are only used for local runs and tests and
// get their schema from the models.
func Migrate(conn *gorm.DB, dbType string) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if dbType != "postgres" {
		if err := conn.AutoMigrate(Models()...); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}

// RunMigrations applies the embedded postgres migrations.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}
