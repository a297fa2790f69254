// Package queue holds the OrderQueue backends. Every backend delivers a job
// to the handler, settles it with domain.Job.Settle and then stores the
// outcome its own way.
package queue

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rl1809/flashsale-orders/internal/core/domain"
	"github.com/rl1809/flashsale-orders/internal/port"
)

const (
	defaultConcurrency = 10
	defaultJobTimeout  = 5 * time.Second
)

type Options struct {
	Name        string
	Concurrency int
	JobTimeout  time.Duration
}

func (o Options) withDefaults() Options {
	if o.Name == "" {
		o.Name = "order-processing"
	}
	if o.Concurrency <= 0 {
		o.Concurrency = defaultConcurrency
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = defaultJobTimeout
	}
	return o
}

// envelope is the stored form of a job, shared by the Redis and RabbitMQ
// backends.
type envelope struct {
	ID               string          `json:"id"`
	Payload          domain.OrderJob `json:"payload"`
	Attempts         int             `json:"attempts"`
	AttemptsMade     int             `json:"attemptsMade"`
	BackoffMs        int64           `json:"backoffMs"`
	State            domain.JobState `json:"state"`
	NextAt           time.Time       `json:"nextAt"`
	LastError        string          `json:"lastError,omitempty"`
	RemoveOnComplete bool            `json:"removeOnComplete"`
	RemoveOnFail     bool            `json:"removeOnFail"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

func newEnvelope(id string, payload domain.OrderJob, opts port.EnqueueOptions, now time.Time) envelope {
	attempts := opts.Attempts
	if attempts < 1 {
		attempts = 1
	}
	return envelope{
		ID:               id,
		Payload:          payload,
		Attempts:         attempts,
		BackoffMs:        opts.BackoffBase.Milliseconds(),
		State:            domain.JobStatePending,
		RemoveOnComplete: opts.RemoveOnComplete,
		RemoveOnFail:     opts.RemoveOnFail,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func (e envelope) job() domain.Job {
	return domain.Job{
		ID:           e.ID,
		Payload:      e.Payload,
		Attempts:     e.Attempts,
		AttemptsMade: e.AttemptsMade,
		BackoffBase:  time.Duration(e.BackoffMs) * time.Millisecond,
		State:        e.State,
		NextAt:       e.NextAt,
		LastError:    e.LastError,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
}

func (e *envelope) update(j domain.Job) {
	e.AttemptsMade = j.AttemptsMade
	e.State = j.State
	e.NextAt = j.NextAt
	e.LastError = j.LastError
	e.UpdatedAt = j.UpdatedAt
}

// execute runs one delivery under the job timeout and settles the job. The
// job context is detached from ctx, so stopping a consumer lets a running job
// finish instead of burning one of its attempts. Callers persist the settled
// state and only then report a terminal failure through notifyFailed.
func execute(ctx context.Context, h port.JobHandler, job *domain.Job, timeout time.Duration, now func() time.Time) (domain.JobState, error) {
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	err := h.Process(jobCtx, *job)
	cancel()

	state := job.Settle(err, now())
	if state == domain.JobStateRetrying {
		log.Warn().Err(err).
			Str("job_id", job.ID).
			Int("attempt", job.AttemptsMade).
			Time("next_at", job.NextAt).
			Msg("job scheduled for retry")
	}
	return state, err
}

func notifyFailed(ctx context.Context, h port.JobHandler, job domain.Job, state domain.JobState, cause error) {
	if state == domain.JobStateFailed {
		h.Failed(context.WithoutCancel(ctx), job, cause)
	}
}
