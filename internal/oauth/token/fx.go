package token

import "go.uber.org/fx"

var Module = fx.Module("oauth.token",
	fx.Provide(LoadKeySet),
	fx.Provide(NewStore),
	fx.Provide(NewIssuer),
	fx.Provide(NewRotator),
	fx.Provide(NewValidator),
	fx.Provide(NewRevoker),
)
