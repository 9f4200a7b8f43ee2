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
	"github.com/smallbiznis/tenantbill/internal/notification/worker"
	"github.com/smallbiznis/tenantbill/internal/observability"
	"github.com/smallbiznis/tenantbill/internal/onboarding"
	"github.com/smallbiznis/tenantbill/internal/payment"
	"github.com/smallbiznis/tenantbill/internal/plan"
	"github.com/smallbiznis/tenantbill/internal/providers"
	"github.com/smallbiznis/tenantbill/internal/ratelimit"
	"github.com/smallbiznis/tenantbill/internal/reconcile"
	"github.com/smallbiznis/tenantbill/internal/server"
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

		// Core dependencies for API
		gateway.Module,
		tenant.Module,
		plan.Module,
		audit.Module,
		subscription.Module,
		invoice.Module,
		payment.Module,
		usage.Module,
		reconcile.Module,
		onboarding.Module,
		ratelimit.Module,

		// The API process drains the notification queue it feeds.
		providers.Module,
		notification.Module,
		worker.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
