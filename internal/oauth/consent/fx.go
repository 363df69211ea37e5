package consent

import "go.uber.org/fx"

var Module = fx.Module("oauth.consent",
	fx.Provide(NewStore),
	fx.Provide(NewService),
)
