package client

import "go.uber.org/fx"

var Module = fx.Module("oauth.client",
	fx.Provide(NewStore),
	fx.Provide(NewService),
)
