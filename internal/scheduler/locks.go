package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/smallbiznis/tenantbill/internal/cache"
	obsmetrics "github.com/smallbiznis/tenantbill/internal/observability/metrics"
)

const lockKeyPrefix = "tenantbill:scheduler:"

// distributedLocker adapts the redis lease to gocron. gocron skips the run on
// this instance when Lock returns an error.
type distributedLocker struct {
	locker  *cache.Locker
	ttl     time.Duration
	metrics *obsmetrics.SchedulerMetrics
}

func (l *distributedLocker) Lock(ctx context.Context, key string) (gocron.Lock, error) {
	token, ok, err := l.locker.TryLock(ctx, lockKeyPrefix+key, l.ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		l.metrics.IncLockAttempt(key, obsmetrics.SchedulerLockOutcomeSkipped)
		return nil, ErrLockHeld
	}
	l.metrics.IncLockAttempt(key, obsmetrics.SchedulerLockOutcomeAcquired)
	return &lease{locker: l.locker, key: lockKeyPrefix + key, token: token}, nil
}

type lease struct {
	locker *cache.Locker
	key    string
	token  string
}

func (l *lease) Unlock(ctx context.Context) error {
	return l.locker.Release(ctx, l.key, l.token)
}
