package auth

import (
	"github.com/smallbiznis/gatekeeper/internal/auth/domain"
	"github.com/smallbiznis/gatekeeper/internal/auth/repository"
	"github.com/smallbiznis/gatekeeper/internal/auth/service"
	"github.com/smallbiznis/gatekeeper/internal/oauth/token"
	"go.uber.org/fx"
)

var Module = fx.Module("auth.service",
	fx.Provide(repository.New),
	fx.Provide(service.New),
	fx.Provide(func(svc domain.Service) token.UserStatus { return svc }),
)
