package plan

import (
	"github.com/smallbiznis/tenantbill/internal/plan/repository"
	"github.com/smallbiznis/tenantbill/internal/plan/service"
	"go.uber.org/fx"
)

var Module = fx.Module("plan.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
