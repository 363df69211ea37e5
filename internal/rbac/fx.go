package rbac

import (
	authdomain "github.com/smallbiznis/gatekeeper/internal/auth/domain"
	"github.com/smallbiznis/gatekeeper/internal/oauth/token"
	"go.uber.org/fx"
)

var Module = fx.Module("rbac",
	fx.Provide(NewStore),
	fx.Provide(NewPermissionCache),
	fx.Provide(NewResolver),
	fx.Provide(func(r *Resolver) token.PermissionResolver { return r }),
	fx.Provide(func(s authdomain.Service) UserDirectory { return s }),
	fx.Provide(NewService),
)
