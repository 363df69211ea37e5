package migration

import (
	"context"

	"github.com/smallbiznis/gatekeeper/internal/config"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Provide(NewBootstrapper),
	fx.Invoke(func(lc fx.Lifecycle, conn *gorm.DB, cfg config.Config, b *Bootstrapper) error {
		if err := Migrate(conn, cfg.DBType); err != nil {
			return err
		}
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return b.Run(ctx)
			},
		})
		return nil
	}),
)
