package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/flashsale-orders/internal/core/domain"
	"github.com/rl1809/flashsale-orders/internal/port"
)

var ErrQueueClosed = errors.New("queue closed")

type memoryJob struct {
	job  domain.Job
	opts port.EnqueueOptions
}

// MemoryQueue is a channel-backed queue with timer-delayed retries. Jobs do
// not survive the process.
type MemoryQueue struct {
	opts  Options
	ready chan *memoryJob
	done  chan struct{}
	now   func() time.Time

	mu        sync.Mutex
	closed    bool
	completed map[string]domain.Job
	failed    map[string]domain.Job
	// pending counts jobs not yet settled terminally; idle is closed and
	// replaced each time it drops to zero.
	pending int
	idle    chan struct{}
}

func NewMemoryQueue(size int, opts Options) *MemoryQueue {
	if size <= 0 {
		size = 10000
	}
	return &MemoryQueue{
		opts:      opts.withDefaults(),
		ready:     make(chan *memoryJob, size),
		done:      make(chan struct{}),
		now:       time.Now,
		completed: make(map[string]domain.Job),
		failed:    make(map[string]domain.Job),
		idle:      make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, payload domain.OrderJob, opts port.EnqueueOptions) (string, error) {
	env := newEnvelope(uuid.NewString(), payload, opts, q.now())
	mj := &memoryJob{job: env.job(), opts: opts}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", ErrQueueClosed
	}
	select {
	case q.ready <- mj:
		q.pending++
		return mj.job.ID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	default:
		return "", errors.New("queue full")
	}
}

func (q *MemoryQueue) Consume(ctx context.Context, handler port.JobHandler) error {
	var wg sync.WaitGroup
	for i := 0; i < q.opts.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case mj := <-q.ready:
					q.handle(ctx, handler, mj)
				}
			}
		}()
	}
	wg.Wait()
	return nil
}

func (q *MemoryQueue) handle(ctx context.Context, handler port.JobHandler, mj *memoryJob) {
	state, cause := execute(ctx, handler, &mj.job, q.opts.JobTimeout, q.now)
	switch state {
	case domain.JobStateSucceeded:
		q.mu.Lock()
		if !mj.opts.RemoveOnComplete {
			q.completed[mj.job.ID] = mj.job
		}
		q.mu.Unlock()
	case domain.JobStateFailed:
		q.mu.Lock()
		if !mj.opts.RemoveOnFail {
			q.failed[mj.job.ID] = mj.job
		}
		q.mu.Unlock()
		notifyFailed(ctx, handler, mj.job, state, cause)
	case domain.JobStateRetrying:
		delay := mj.job.NextAt.Sub(q.now())
		time.AfterFunc(delay, func() {
			select {
			case q.ready <- mj:
			case <-q.done:
				q.settle()
			}
		})
		return
	}
	q.settle()
}

func (q *MemoryQueue) settle() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending--
	if q.pending == 0 {
		close(q.idle)
		q.idle = make(chan struct{})
	}
}

// Failed returns the retained terminal failures.
func (q *MemoryQueue) Failed() []domain.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobs := make([]domain.Job, 0, len(q.failed))
	for _, j := range q.failed {
		jobs = append(jobs, j)
	}
	return jobs
}

// Completed returns succeeded jobs that were enqueued without RemoveOnComplete.
func (q *MemoryQueue) Completed() []domain.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobs := make([]domain.Job, 0, len(q.completed))
	for _, j := range q.completed {
		jobs = append(jobs, j)
	}
	return jobs
}

// Drain blocks until every job enqueued before the call has settled
// terminally or ctx ends. Jobs enqueued while draining extend the wait.
func (q *MemoryQueue) Drain(ctx context.Context) error {
	q.mu.Lock()
	if q.pending == 0 {
		q.mu.Unlock()
		return nil
	}
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops intake and abandons pending retries.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}
