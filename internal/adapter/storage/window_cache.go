package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/rl1809/flashsale-orders/internal/core/domain"
	"github.com/rl1809/flashsale-orders/internal/port"
)

const (
	windowKeyPrefix = "flash-sale:"
	windowCacheTTL  = time.Hour
)

type cachedSale struct {
	ID        string    `json:"id"`
	ProductID string    `json:"productId"`
	StartDate string    `json:"startDate"`
	EndDate   string    `json:"endDate"`
	CreatedBy string    `json:"createdBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// WindowCache is a cache-aside decorator over a WindowSource. Redis errors
// degrade to the source; a missing sale is never cached.
type WindowCache struct {
	client *redis.Client
	source port.WindowSource
	ttl    time.Duration
}

func NewWindowCache(client *redis.Client, source port.WindowSource, ttl time.Duration) *WindowCache {
	if ttl <= 0 {
		ttl = windowCacheTTL
	}
	return &WindowCache{client: client, source: source, ttl: ttl}
}

func windowKey(productID string) string { return windowKeyPrefix + productID }

func (c *WindowCache) FindByProductID(ctx context.Context, productID string) (*domain.FlashSale, error) {
	key := windowKey(productID)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cs cachedSale
		if err := json.Unmarshal(raw, &cs); err == nil {
			return &domain.FlashSale{
				ID:        cs.ID,
				ProductID: cs.ProductID,
				StartDate: cs.StartDate,
				EndDate:   cs.EndDate,
				CreatedBy: cs.CreatedBy,
				CreatedAt: cs.CreatedAt,
			}, nil
		}
		log.Warn().Str("key", key).Msg("discarding undecodable cached flash sale")
	case !errors.Is(err, redis.Nil):
		log.Warn().Err(err).Str("key", key).Msg("flash sale cache read failed")
	}

	sale, err := c.source.FindByProductID(ctx, productID)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(cachedSale{
		ID:        sale.ID,
		ProductID: sale.ProductID,
		StartDate: sale.StartDate,
		EndDate:   sale.EndDate,
		CreatedBy: sale.CreatedBy,
		CreatedAt: sale.CreatedAt,
	})
	if err == nil {
		if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("flash sale cache write failed")
		}
	}

	return sale, nil
}

// Invalidate drops the cached window after the sale is edited.
func (c *WindowCache) Invalidate(ctx context.Context, productID string) error {
	return c.client.Del(ctx, windowKey(productID)).Err()
}
