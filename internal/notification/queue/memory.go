package queue

import (
	"context"
	"time"

	"github.com/smallbiznis/tenantbill/internal/notification/domain"
)

// Memory is a bounded in-process queue for single-node deployments and tests.
// Enqueue never blocks; a full queue rejects the job.
type Memory struct {
	jobs chan domain.Job
}

func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Memory{jobs: make(chan domain.Job, capacity)}
}

func (q *Memory) Enqueue(ctx context.Context, job domain.Job) error {
	select {
	case q.jobs <- job:
		return nil
	default:
		return domain.ErrQueueFull
	}
}

func (q *Memory) Dequeue(ctx context.Context, timeout time.Duration) (*domain.Job, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case job := <-q.jobs:
		return &job, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *Memory) Len() int {
	return len(q.jobs)
}
