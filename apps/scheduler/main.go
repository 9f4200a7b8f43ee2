package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantbill/internal/audit"
	"github.com/smallbiznis/tenantbill/internal/cache"
	"github.com/smallbiznis/tenantbill/internal/clock"
	"github.com/smallbiznis/tenantbill/internal/config"
	"github.com/smallbiznis/tenantbill/internal/gateway"
	"github.com/smallbiznis/tenantbill/internal/invoice"
	"github.com/smallbiznis/tenantbill/internal/notification"
	"github.com/smallbiznis/tenantbill/internal/observability"
	"github.com/smallbiznis/tenantbill/internal/plan"
	"github.com/smallbiznis/tenantbill/internal/scheduler"
	"github.com/smallbiznis/tenantbill/internal/subscription"
	"github.com/smallbiznis/tenantbill/internal/tenant"
	"github.com/smallbiznis/tenantbill/internal/usage"
	"github.com/smallbiznis/tenantbill/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		cache.Module,

		// Domain services required by scheduler
		gateway.Module,
		tenant.Module,
		plan.Module,
		audit.Module,
		subscription.Module,
		invoice.Module,
		usage.Module,
		notification.Module,

		// No server module!
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
