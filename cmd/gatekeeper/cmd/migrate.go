package cmd

import (
	"log"

	"github.com/smallbiznis/gatekeeper/internal/config"
	"github.com/smallbiznis/gatekeeper/internal/migration"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long:  `Applies every pending schema migration and exits. Bootstrap data is seeded by serve.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		err := runOnce(
			coreModules(),
			fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
				return migration.Migrate(conn, cfg.DBType)
			}),
		)
		if err != nil {
			return err
		}
		log.Printf("Migrations applied")
		return nil
	},
}
