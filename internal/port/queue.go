package port

import (
	"context"
	"time"

	"github.com/rl1809/flashsale-orders/internal/core/domain"
)

type EnqueueOptions struct {
	Attempts         int
	BackoffBase      time.Duration
	RemoveOnComplete bool
	RemoveOnFail     bool
}

type JobHandler interface {
	// Process handles one delivery; a non-nil error is retried unless
	// marked with domain.Permanent
	Process(ctx context.Context, job domain.Job) error

	// Failed is called once when the job reaches a terminal failure
	Failed(ctx context.Context, job domain.Job, err error)
}

type OrderQueue interface {
	// Enqueue stores the job durably and returns its id
	Enqueue(ctx context.Context, payload domain.OrderJob, opts EnqueueOptions) (string, error)

	// Consume runs the worker pool until ctx is cancelled
	Consume(ctx context.Context, handler JobHandler) error
}

type OrderEventPublisher interface {
	Publish(ctx context.Context, event domain.OrderEvent) error
}
