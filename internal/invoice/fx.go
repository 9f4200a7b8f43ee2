package invoice

import (
	"github.com/smallbiznis/tenantbill/internal/invoice/pdf"
	"github.com/smallbiznis/tenantbill/internal/invoice/render"
	"github.com/smallbiznis/tenantbill/internal/invoice/repository"
	"github.com/smallbiznis/tenantbill/internal/invoice/service"
	"go.uber.org/fx"
)

var Module = fx.Module("invoice.service",
	fx.Provide(repository.Provide),
	fx.Provide(render.NewRenderer),
	fx.Provide(pdf.New),
	fx.Provide(service.NewService),
)
