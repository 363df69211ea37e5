package cmd

import (
	"github.com/smallbiznis/gatekeeper/internal/migration"
	"github.com/smallbiznis/gatekeeper/internal/scheduler"
	"github.com/smallbiznis/gatekeeper/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the authorization server",
	Long: `Applies pending migrations, seeds the bootstrap administrator and client
when configured, then serves the OAuth, login and admin endpoints until
interrupted.`,
	Run: func(cmd *cobra.Command, args []string) {
		fx.New(
			coreModules(),
			server.Module,
			migration.Module,
			scheduler.Module,
		).Run()
	},
}
