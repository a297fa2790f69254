package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/rl1809/flashsale-orders/internal/core/domain"
	"github.com/rl1809/flashsale-orders/internal/port"
)

const (
	promoteInterval = 200 * time.Millisecond
	promoteBatch    = 100
	blockTimeout    = time.Second
)

// moves due jobs from the delayed set back onto the wait list
var promoteScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, id in ipairs(ids) do
	redis.call('ZREM', KEYS[1], id)
	redis.call('LPUSH', KEYS[2], id)
end
return #ids
`)

// RedisQueue keeps each job in a hash and moves its id between the wait
// list, the active list, the delayed set and the failed set.
type RedisQueue struct {
	client *redis.Client
	opts   Options
	prefix string
	newID  func() string
	now    func() time.Time
}

func NewRedisQueue(client *redis.Client, opts Options) *RedisQueue {
	opts = opts.withDefaults()
	return &RedisQueue{
		client: client,
		opts:   opts,
		prefix: "queue:" + opts.Name + ":",
		newID:  uuid.NewString,
		now:    time.Now,
	}
}

func (q *RedisQueue) jobKey(id string) string { return q.prefix + "job:" + id }
func (q *RedisQueue) waitKey() string         { return q.prefix + "wait" }
func (q *RedisQueue) activeKey() string       { return q.prefix + "active" }
func (q *RedisQueue) delayedKey() string      { return q.prefix + "delayed" }
func (q *RedisQueue) failedKey() string       { return q.prefix + "failed" }

func (q *RedisQueue) Enqueue(ctx context.Context, payload domain.OrderJob, opts port.EnqueueOptions) (string, error) {
	env := newEnvelope(q.newID(), payload, opts, q.now())
	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.jobKey(env.ID), "data", string(data), "state", string(env.State))
		pipe.LPush(ctx, q.waitKey(), env.ID)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return env.ID, nil
}

func (q *RedisQueue) Consume(ctx context.Context, handler port.JobHandler) error {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(promoteInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := q.promote(ctx); err != nil && ctx.Err() == nil {
					log.Error().Err(err).Msg("failed to promote delayed jobs")
				}
			}
		}
	}()

	for i := 0; i < q.opts.Concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			q.work(ctx, worker, handler)
		}(i)
	}

	wg.Wait()
	return nil
}

func (q *RedisQueue) work(ctx context.Context, worker int, handler port.JobHandler) {
	for ctx.Err() == nil {
		id, err := q.client.BLMove(ctx, q.waitKey(), q.activeKey(), "RIGHT", "LEFT", blockTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Int("worker", worker).Msg("failed to fetch job")
				time.Sleep(blockTimeout)
			}
			continue
		}

		if err := q.handle(ctx, handler, id); err != nil {
			log.Error().Err(err).Int("worker", worker).Str("job_id", id).Msg("failed to settle job")
		}
	}
}

func (q *RedisQueue) handle(ctx context.Context, handler port.JobHandler, id string) error {
	env, err := q.load(ctx, id)
	if err != nil {
		q.client.LRem(context.WithoutCancel(ctx), q.activeKey(), 1, id)
		return err
	}

	job := env.job()
	state, cause := execute(ctx, handler, &job, q.opts.JobTimeout, q.now)
	env.update(job)
	if err := q.store(context.WithoutCancel(ctx), env, state); err != nil {
		// still on the active list; RequeueActive delivers it again
		return err
	}
	notifyFailed(ctx, handler, job, state, cause)
	return nil
}

func (q *RedisQueue) load(ctx context.Context, id string) (envelope, error) {
	var env envelope
	data, err := q.client.HGet(ctx, q.jobKey(id), "data").Result()
	if err != nil {
		return env, fmt.Errorf("load job: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return env, fmt.Errorf("decode job: %w", err)
	}
	return env, nil
}

func (q *RedisQueue) store(ctx context.Context, env envelope, state domain.JobState) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		key := q.jobKey(env.ID)
		switch state {
		case domain.JobStateSucceeded:
			if env.RemoveOnComplete {
				pipe.Del(ctx, key)
			} else {
				pipe.HSet(ctx, key, "data", string(data), "state", string(state))
			}
		case domain.JobStateRetrying:
			pipe.HSet(ctx, key, "data", string(data), "state", string(state))
			pipe.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(env.NextAt.UnixMilli()), Member: env.ID})
		case domain.JobStateFailed:
			if env.RemoveOnFail {
				pipe.Del(ctx, key)
			} else {
				pipe.HSet(ctx, key, "data", string(data), "state", string(state))
				pipe.ZAdd(ctx, q.failedKey(), redis.Z{Score: float64(env.UpdatedAt.UnixMilli()), Member: env.ID})
			}
		}
		pipe.LRem(ctx, q.activeKey(), 1, env.ID)
		return nil
	})
	return err
}

func (q *RedisQueue) promote(ctx context.Context) (int, error) {
	now := strconv.FormatInt(q.now().UnixMilli(), 10)
	return promoteScript.Run(ctx, q.client, []string{q.delayedKey(), q.waitKey()}, now, promoteBatch).Int()
}

// RequeueActive moves jobs left on the active list by a crashed consumer
// back to the wait list. Call it before Consume, with no other consumer of
// the same queue running.
func (q *RedisQueue) RequeueActive(ctx context.Context) (int, error) {
	moved := 0
	for {
		_, err := q.client.LMove(ctx, q.activeKey(), q.waitKey(), "RIGHT", "RIGHT").Result()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, err
		}
		moved++
	}
}

// FailedJobs returns retained terminal failures, oldest first.
func (q *RedisQueue) FailedJobs(ctx context.Context, limit int64) ([]domain.Job, error) {
	ids, err := q.client.ZRange(ctx, q.failedKey(), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}

	jobs := make([]domain.Job, 0, len(ids))
	for _, id := range ids {
		env, err := q.load(ctx, id)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, env.job())
	}
	return jobs, nil
}
