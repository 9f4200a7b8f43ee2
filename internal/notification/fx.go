package notification

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/tenantbill/internal/config"
	"github.com/smallbiznis/tenantbill/internal/notification/domain"
	"github.com/smallbiznis/tenantbill/internal/notification/queue"
	"github.com/smallbiznis/tenantbill/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const memoryQueueCapacity = 1024

var Module = fx.Module("notification",
	fx.Provide(NewQueue),
	fx.Provide(provideNotifier),
)

type QueueParams struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
	Redis  *redis.Client `optional:"true"`
}

// NewQueue uses redis when a client is configured so producers and the worker
// may run in different processes. Otherwise jobs stay in memory.
func NewQueue(p QueueParams) domain.Queue {
	if p.Redis != nil {
		p.Log.Info("notification queue backend", zap.String("backend", "redis"), zap.String("key", p.Config.Notification.QueueKey))
		return queue.NewRedis(p.Redis, p.Config.Notification.QueueKey)
	}
	p.Log.Info("notification queue backend", zap.String("backend", "memory"))
	return queue.NewMemory(memoryQueueCapacity)
}

type notifierParams struct {
	fx.In

	Queue   domain.Queue
	Log     *zap.Logger
	Metrics *metrics.Metrics `optional:"true"`
}

func provideNotifier(p notifierParams) domain.Notifier {
	return NewNotifier(p.Queue, p.Log, p.Metrics)
}
