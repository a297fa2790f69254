package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/rl1809/flashsale-orders/internal/core/domain"
	"github.com/rl1809/flashsale-orders/internal/port"
)

const attemptsHeader = "x-attempts-made"

// Dial connects to RabbitMQ, retrying while the broker starts.
func Dial(url string, retries int) (*amqp.Connection, error) {
	var (
		conn *amqp.Connection
		err  error
	)
	for i := 0; i <= retries; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		log.Warn().Err(err).Int("attempt", i+1).Msg("failed to connect to rabbitmq")
		time.Sleep(2 * time.Second)
	}
	return nil, fmt.Errorf("could not connect to RabbitMQ: %w", err)
}

// RabbitQueue delivers jobs from a durable work queue. A retry is published
// to a per-delay queue whose messages expire and dead-letter back onto the
// work queue. Terminal failures are kept on a failed queue.
type RabbitQueue struct {
	conn *amqp.Connection
	opts Options
	now  func() time.Time

	mu       sync.Mutex
	pub      *amqp.Channel
	declared map[string]bool
}

func NewRabbitQueue(conn *amqp.Connection, opts Options) (*RabbitQueue, error) {
	q := &RabbitQueue{
		conn:     conn,
		opts:     opts.withDefaults(),
		now:      time.Now,
		declared: make(map[string]bool),
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("could not open channel: %w", err)
	}
	q.pub = ch

	for _, name := range []string{q.opts.Name, q.failedName()} {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return nil, fmt.Errorf("could not declare queue %s: %w", name, err)
		}
	}
	return q, nil
}

func (q *RabbitQueue) failedName() string { return q.opts.Name + ".failed" }

func (q *RabbitQueue) retryName(delay time.Duration) string {
	return q.opts.Name + ".retry." + strconv.FormatInt(delay.Milliseconds(), 10)
}

func (q *RabbitQueue) Enqueue(ctx context.Context, payload domain.OrderJob, opts port.EnqueueOptions) (string, error) {
	env := newEnvelope(uuid.NewString(), payload, opts, q.now())
	if err := q.publish(ctx, q.opts.Name, env); err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return env.ID, nil
}

func (q *RabbitQueue) publish(ctx context.Context, routingKey string, env envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("could not marshal job: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pub.PublishWithContext(ctx,
		"",         // default exchange
		routingKey, // queue name
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    env.ID,
			Timestamp:    env.UpdatedAt,
			Headers:      amqp.Table{attemptsHeader: int32(env.AttemptsMade)},
			Body:         body,
		},
	)
}

// declareRetry lazily declares the delay queue for one backoff step.
func (q *RabbitQueue) declareRetry(delay time.Duration) (string, error) {
	name := q.retryName(delay)

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.declared[name] {
		return name, nil
	}
	_, err := q.pub.QueueDeclare(name, true, false, false, false, amqp.Table{
		"x-message-ttl":             delay.Milliseconds(),
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": q.opts.Name,
	})
	if err != nil {
		return "", fmt.Errorf("could not declare retry queue: %w", err)
	}
	q.declared[name] = true
	return name, nil
}

func (q *RabbitQueue) Consume(ctx context.Context, handler port.JobHandler) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("could not open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(q.opts.Concurrency, 0, false); err != nil {
		return fmt.Errorf("could not set qos: %w", err)
	}

	msgs, err := ch.Consume(
		q.opts.Name, // queue
		"",          // consumer tag
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("could not start consume: %w", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < q.opts.Concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-msgs:
					if !ok {
						return
					}
					q.handle(ctx, worker, handler, d)
				}
			}
		}(i)
	}

	wg.Wait()
	return nil
}

func (q *RabbitQueue) handle(ctx context.Context, worker int, handler port.JobHandler, d amqp.Delivery) {
	var env envelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		log.Error().Err(err).Int("worker", worker).Str("message_id", d.MessageId).Msg("dropping undecodable job")
		d.Nack(false, false)
		return
	}

	job := env.job()
	state, cause := execute(ctx, handler, &job, q.opts.JobTimeout, q.now)
	env.update(job)

	// settle on a context that outlives shutdown so the broker sees the outcome
	settleCtx := context.WithoutCancel(ctx)
	var err error
	switch state {
	case domain.JobStateRetrying:
		var name string
		if name, err = q.declareRetry(domain.Backoff(job.BackoffBase, job.AttemptsMade)); err == nil {
			err = q.publish(settleCtx, name, env)
		}
	case domain.JobStateFailed:
		if !env.RemoveOnFail {
			err = q.publish(settleCtx, q.failedName(), env)
		}
	}

	if err != nil {
		log.Error().Err(err).Int("worker", worker).Str("job_id", env.ID).Msg("failed to settle job, requeueing")
		d.Nack(false, true)
		return
	}
	notifyFailed(ctx, handler, job, state, cause)
	d.Ack(false)
}

func (q *RabbitQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pub.Close()
}
