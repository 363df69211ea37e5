package audit

import (
	auditdomain "github.com/smallbiznis/gatekeeper/internal/audit/domain"
	"github.com/smallbiznis/gatekeeper/internal/audit/repository"
	"github.com/smallbiznis/gatekeeper/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(func(svc auditdomain.Service) auditdomain.Emitter { return svc }),
)
