package gateway

import (
	"github.com/smallbiznis/tenantbill/internal/config"
	"github.com/smallbiznis/tenantbill/internal/gateway/domain"
	"github.com/smallbiznis/tenantbill/internal/gateway/stripe"
	"github.com/smallbiznis/tenantbill/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("gateway",
	fx.Provide(ProvideRegistry),
)

// ProvideRegistry registers the configured processor. Without credentials the
// registry stays empty and subscriptions are managed locally only.
func ProvideRegistry(cfg config.Config, m *metrics.Metrics, log *zap.Logger) *Registry {
	var clients []domain.Client
	switch cfg.Gateway.Provider {
	case "stripe", "":
		if cfg.Gateway.SecretKey == "" && cfg.Gateway.WebhookSecret == "" {
			log.Named("gateway").Warn("stripe credentials missing, remote billing disabled")
			break
		}
		clients = append(clients, stripe.New(stripe.Config{
			SecretKey:        cfg.Gateway.SecretKey,
			WebhookSecret:    cfg.Gateway.WebhookSecret,
			APIBaseURL:       cfg.Gateway.APIBaseURL,
			Timeout:          cfg.Gateway.Timeout,
			WebhookTolerance: cfg.Gateway.WebhookTolerance,
		}, m, log))
	default:
		log.Named("gateway").Warn("unsupported payment provider", zap.String("provider", cfg.Gateway.Provider))
	}
	return NewRegistry(clients...)
}
