package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/rl1809/flashsale-orders/internal/core/domain"
	"github.com/rl1809/flashsale-orders/internal/metrics"
	"github.com/rl1809/flashsale-orders/internal/port"
)

type OrderProcessor struct {
	orders         port.OrderRepository
	counter        *StockCounter
	claims         port.PurchaseClaims
	events         port.OrderEventPublisher
	metrics        *metrics.Registry
	restoreCounter bool
	now            func() time.Time
}

type ProcessorOption func(*OrderProcessor)

// WithCounterRestore controls whether a terminally failed job gives its
// reservation back to the fast counter.
func WithCounterRestore(enabled bool) ProcessorOption {
	return func(p *OrderProcessor) { p.restoreCounter = enabled }
}

func WithClock(now func() time.Time) ProcessorOption {
	return func(p *OrderProcessor) { p.now = now }
}

func NewOrderProcessor(
	orders port.OrderRepository,
	counter *StockCounter,
	claims port.PurchaseClaims,
	events port.OrderEventPublisher,
	m *metrics.Registry,
	opts ...ProcessorOption,
) *OrderProcessor {
	p := &OrderProcessor{
		orders:         orders,
		counter:        counter,
		claims:         claims,
		events:         events,
		metrics:        m,
		restoreCounter: true,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process commits one delivery of an order job. Returned errors are retried
// by the queue unless wrapped with domain.Permanent.
func (p *OrderProcessor) Process(ctx context.Context, job domain.Job) error {
	start := p.now()
	order, err := p.process(ctx, job)
	if p.metrics != nil {
		p.metrics.JobLatencySec.Observe(p.now().Sub(start).Seconds())
		p.metrics.Jobs.WithLabelValues(outcomeLabel(order, err)).Inc()
	}
	if err != nil {
		log.Warn().Err(err).Str("job_id", job.ID).Int("attempt", job.AttemptsMade+1).Msg("order job failed")
		return err
	}
	if order == nil {
		return nil
	}

	log.Info().Str("job_id", job.ID).Str("order_id", order.ID).Str("product_id", order.ProductID).Msg("order committed")
	p.publish(ctx, domain.OrderEvent{
		Type:       domain.OrderEventSucceeded,
		OrderID:    order.ID,
		JobID:      job.ID,
		UserID:     order.UserID,
		ProductID:  order.ProductID,
		OccurredAt: p.now(),
	})
	return nil
}

// process returns a nil order when the job was already committed by an
// earlier delivery.
func (p *OrderProcessor) process(ctx context.Context, job domain.Job) (*domain.Order, error) {
	idempotencyKey := job.ID
	payload := job.Payload

	existing, err := p.orders.FindByIdempotencyKey(ctx, idempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("%w: lookup idempotency key: %v", domain.ErrProcessingFailed, err)
	}
	if existing != nil {
		log.Info().Str("job_id", job.ID).Msg("job already processed, skipping")
		return nil, nil
	}

	now := p.now()
	order := domain.Order{
		ID:             uuid.NewString(),
		UserID:         payload.UserID,
		ProductID:      payload.ProductID,
		IdempotencyKey: idempotencyKey,
		Status:         domain.OrderStatusSuccess,
		CreatedBy:      payload.Username,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = p.orders.WithinTx(ctx, func(tx port.OrderTx) error {
		if _, err := tx.GetProduct(ctx, payload.ProductID); err != nil {
			if errors.Is(err, domain.ErrProductNotFound) {
				return domain.Permanent(err)
			}
			return err
		}

		affected, err := tx.ConditionalDecrementStock(ctx, payload.ProductID)
		if err != nil {
			return err
		}
		if affected == 0 {
			return domain.ErrDurableOutOfStock
		}

		return tx.InsertOrder(ctx, order)
	})

	switch {
	case err == nil:
		return &order, nil
	case errors.Is(err, port.ErrDuplicateIdempotencyKey):
		// a concurrent delivery of the same job won the insert
		return nil, nil
	case errors.Is(err, domain.ErrAlreadyPurchased):
		// a concurrent delivery that committed first trips the user/product
		// key before the idempotency key, so look for our own order again
		committed, lookupErr := p.orders.FindByIdempotencyKey(ctx, idempotencyKey)
		if lookupErr != nil {
			return nil, fmt.Errorf("%w: recheck idempotency key: %v", domain.ErrProcessingFailed, lookupErr)
		}
		if committed != nil {
			log.Info().Str("job_id", job.ID).Msg("job committed by a concurrent delivery, skipping")
			return nil, nil
		}
		return nil, domain.Permanent(err)
	default:
		return nil, err
	}
}

// Failed reconciles a job that exhausted its attempts or failed permanently.
func (p *OrderProcessor) Failed(ctx context.Context, job domain.Job, cause error) {
	payload := job.Payload
	logger := log.With().Str("job_id", job.ID).Str("user_id", payload.UserID).Str("product_id", payload.ProductID).Logger()
	logger.Error().Err(cause).Int("attempts", job.AttemptsMade).Msg("order job terminally failed, manual reconciliation may be required")

	if err := p.claims.Release(ctx, payload.UserID, payload.ProductID); err != nil {
		logger.Error().Err(err).Msg("failed to release purchase claim")
	}

	// durable stock ran out: the reserved unit never existed, giving it back
	// would let another buyer reserve phantom stock
	if p.restoreCounter && !errors.Is(cause, domain.ErrDurableOutOfStock) {
		restored, err := p.counter.Release(ctx, payload.ProductID, reserveQuantity)
		switch {
		case err != nil:
			logger.Error().Err(err).Msg("CRITICAL: counter restore failed")
		case restored:
			if p.metrics != nil {
				p.metrics.Compensations.WithLabelValues("job_failed").Inc()
			}
			logger.Warn().Msg("restored stock counter after terminal failure")
		}
	}

	p.publish(ctx, domain.OrderEvent{
		Type:       domain.OrderEventFailed,
		JobID:      job.ID,
		UserID:     payload.UserID,
		ProductID:  payload.ProductID,
		Reason:     domain.ReasonOf(cause),
		OccurredAt: p.now(),
	})
}

func (p *OrderProcessor) publish(ctx context.Context, event domain.OrderEvent) {
	if p.events == nil {
		return
	}
	if err := p.events.Publish(ctx, event); err != nil {
		log.Error().Err(err).Str("job_id", event.JobID).Str("event", string(event.Type)).Msg("failed to publish order event")
	}
}

func outcomeLabel(order *domain.Order, err error) string {
	switch {
	case err == nil && order == nil:
		return "duplicate"
	case err == nil:
		return "success"
	case !domain.IsRetryable(err):
		return "permanent_failure"
	default:
		return "retryable_failure"
	}
}
