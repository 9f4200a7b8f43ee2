package email

import (
	"strings"

	"github.com/smallbiznis/tenantbill/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.email",
	fx.Provide(NewFromConfig),
	fx.Provide(NewTemplates),
)

// NewFromConfig picks SMTP when a host is configured and falls back to logging.
func NewFromConfig(cfg config.Config, log *zap.Logger) Provider {
	n := cfg.Notification
	if strings.TrimSpace(n.SMTPHost) == "" {
		return NewLogProvider(log)
	}
	return NewSMTP(SMTPConfig{
		Host:     n.SMTPHost,
		Port:     n.SMTPPort,
		Username: n.SMTPUsername,
		Password: n.SMTPPassword,
		From:     n.SMTPFrom,
	})
}
