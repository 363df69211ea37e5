package local

import "go.uber.org/fx"

var Module = fx.Module("auth.login",
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
)
