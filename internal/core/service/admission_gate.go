package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/rl1809/flashsale-orders/internal/core/domain"
	"github.com/rl1809/flashsale-orders/internal/metrics"
	"github.com/rl1809/flashsale-orders/internal/port"
)

const reserveQuantity = 1

type AdmissionGate struct {
	orders  port.OrderRepository
	window  *WindowValidator
	claims  port.PurchaseClaims
	counter *StockCounter
	queue   port.OrderQueue
	policy  port.EnqueueOptions
	metrics *metrics.Registry
}

func NewAdmissionGate(
	orders port.OrderRepository,
	window *WindowValidator,
	claims port.PurchaseClaims,
	counter *StockCounter,
	queue port.OrderQueue,
	policy port.EnqueueOptions,
	m *metrics.Registry,
) *AdmissionGate {
	return &AdmissionGate{
		orders:  orders,
		window:  window,
		claims:  claims,
		counter: counter,
		queue:   queue,
		policy:  policy,
		metrics: m,
	}
}

// Admit decides a purchase attempt synchronously. The returned job id
// acknowledges that the purchase is queued, not that it is final.
func (g *AdmissionGate) Admit(ctx context.Context, userID, username, productID string) (string, error) {
	jobID, err := g.admit(ctx, userID, username, productID)
	if g.metrics != nil {
		result := "admitted"
		if err != nil {
			result = strings.ToLower(string(domain.ReasonOf(err)))
		}
		g.metrics.Admissions.WithLabelValues(result).Inc()
	}
	return jobID, err
}

func (g *AdmissionGate) admit(ctx context.Context, userID, username, productID string) (string, error) {
	existing, err := g.orders.FindByUserAndProduct(ctx, userID, productID)
	if err != nil {
		return "", fmt.Errorf("lookup order: %w", err)
	}
	if existing != nil && existing.Status.Blocks() {
		return "", domain.ErrAlreadyPurchased
	}

	if err := g.window.Validate(ctx, productID); err != nil {
		return "", err
	}

	ok, err := g.claims.Claim(ctx, userID, productID)
	if err != nil {
		return "", fmt.Errorf("purchase claim failed: %w", err)
	}
	if !ok {
		return "", domain.ErrAlreadyPurchased
	}

	jobID, err := g.reserveAndEnqueue(ctx, userID, username, productID)
	if err != nil {
		if relErr := g.claims.Release(context.WithoutCancel(ctx), userID, productID); relErr != nil {
			log.Error().Err(relErr).Str("user_id", userID).Str("product_id", productID).Msg("failed to release purchase claim")
		}
		return "", err
	}
	return jobID, nil
}

func (g *AdmissionGate) reserveAndEnqueue(ctx context.Context, userID, username, productID string) (string, error) {
	if err := g.counter.EnsureSeeded(ctx, productID); err != nil {
		if errors.Is(err, domain.ErrProductNotFound) {
			return "", err
		}
		return "", fmt.Errorf("stock counter: %w", err)
	}

	ok, err := g.counter.Reserve(ctx, productID, reserveQuantity)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", domain.ErrOutOfStock
	}

	jobID, err := g.queue.Enqueue(ctx, domain.OrderJob{
		UserID:    userID,
		ProductID: productID,
		Username:  username,
	}, g.policy)
	if err != nil {
		g.compensate(ctx, productID)
		return "", fmt.Errorf("%w: %v", domain.ErrEnqueueFailed, err)
	}

	log.Debug().Str("job_id", jobID).Str("user_id", userID).Str("product_id", productID).Msg("purchase admitted")
	return jobID, nil
}

func (g *AdmissionGate) compensate(ctx context.Context, productID string) {
	// the request may already be cancelled, the reservation must still be returned
	ctx = context.WithoutCancel(ctx)
	restored, err := g.counter.Release(ctx, productID, reserveQuantity)
	switch {
	case err != nil:
		log.Error().Err(err).Str("product_id", productID).Msg("CRITICAL: counter compensation failed after enqueue error")
	case !restored:
		log.Warn().Str("product_id", productID).Msg("counter missing during compensation, next seed will resync")
	default:
		if g.metrics != nil {
			g.metrics.Compensations.WithLabelValues("enqueue_failed").Inc()
		}
		log.Warn().Str("product_id", productID).Msg("rolled back stock reservation after enqueue error")
	}
}
