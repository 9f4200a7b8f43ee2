// Package notification queues best-effort customer notifications.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/tenantbill/internal/notification/domain"
	"github.com/smallbiznis/tenantbill/internal/observability/metrics"
	"go.uber.org/zap"
)

const enqueueTimeout = 2 * time.Second

// QueueNotifier enqueues jobs and swallows failures after logging them.
type QueueNotifier struct {
	queue   domain.Queue
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewNotifier(queue domain.Queue, log *zap.Logger, m *metrics.Metrics) *QueueNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &QueueNotifier{
		queue:   queue,
		log:     log.Named("notification"),
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Notify runs detached from ctx cancellation; the triggering request may
// already be finished when the enqueue happens.
func (n *QueueNotifier) Notify(ctx context.Context, job domain.Job) {
	if n == nil || n.queue == nil {
		return
	}
	if !job.Kind.Valid() || job.TenantID == 0 {
		n.log.Warn("dropping invalid notification", zap.String("kind", string(job.Kind)))
		n.metrics.RecordNotification(string(job.Kind), metrics.OutcomeRejected)
		return
	}
	if job.ID == "" {
		job.ID = ulid.Make().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = n.now()
	}

	enqueueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), enqueueTimeout)
	defer cancel()

	if err := n.queue.Enqueue(enqueueCtx, job); err != nil {
		n.log.Warn("failed to enqueue notification",
			zap.String("job_id", job.ID),
			zap.String("kind", string(job.Kind)),
			zap.String("tenant_id", job.TenantID.String()),
			zap.Error(err),
		)
		n.metrics.RecordNotification(string(job.Kind), metrics.OutcomeFailed)
		return
	}
	n.metrics.RecordNotification(string(job.Kind), metrics.OutcomeApplied)
}

// Discard is a Notifier that drops every job.
type Discard struct{}

func (Discard) Notify(context.Context, domain.Job) {}

// Recorder keeps notified jobs in memory for tests.
type Recorder struct {
	mu   sync.Mutex
	Jobs []domain.Job
}

func (r *Recorder) Notify(_ context.Context, job domain.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Jobs = append(r.Jobs, job)
}

// Kinds lists recorded job kinds in order.
func (r *Recorder) Kinds() []domain.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]domain.Kind, 0, len(r.Jobs))
	for _, job := range r.Jobs {
		kinds = append(kinds, job.Kind)
	}
	return kinds
}
