package oauth2provider

import "go.uber.org/fx"

var Module = fx.Module("auth.oauth2.provider",
	fx.Provide(NewService),
	fx.Provide(NewDiscovery),
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
)
