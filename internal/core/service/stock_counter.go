package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/rl1809/flashsale-orders/internal/core/domain"
	"github.com/rl1809/flashsale-orders/internal/port"
)

// StockCounter is the fast reservation counter. Product.stock stays the
// source of truth; the counter is seeded from it on first use.
type StockCounter struct {
	store    port.CounterStore
	products port.ProductRepository
	ttl      time.Duration
	seeds    singleflight.Group
}

func NewStockCounter(store port.CounterStore, products port.ProductRepository, ttl time.Duration) *StockCounter {
	return &StockCounter{store: store, products: products, ttl: ttl}
}

// EnsureSeeded makes sure the counter exists. Concurrent misses in this
// process share one load, and the store write is a conditional set so
// instances racing on the same key cannot overwrite each other.
func (c *StockCounter) EnsureSeeded(ctx context.Context, productID string) error {
	_, ok, err := c.store.Get(ctx, productID)
	if err != nil {
		return fmt.Errorf("read counter: %w", err)
	}
	if ok {
		return nil
	}

	// shared by every waiter, so one caller going away must not fail the rest
	seedCtx := context.WithoutCancel(ctx)
	_, err, _ = c.seeds.Do(productID, func() (interface{}, error) {
		return nil, c.seed(seedCtx, productID)
	})
	return err
}

func (c *StockCounter) seed(ctx context.Context, productID string) error {
	product, err := c.products.GetProduct(ctx, productID)
	if err != nil {
		return err
	}

	seeded, err := c.store.SetIfAbsent(ctx, productID, product.Stock, c.ttl)
	if err != nil {
		return fmt.Errorf("seed counter: %w", err)
	}
	if seeded {
		log.Info().Str("product_id", productID).Int("stock", product.Stock).Msg("seeded stock counter")
	}
	return nil
}

// Reserve takes n units, returning false when fewer than n remain.
func (c *StockCounter) Reserve(ctx context.Context, productID string, n int) (bool, error) {
	ok, err := c.store.Decrement(ctx, productID, n)
	if errors.Is(err, domain.ErrCounterNotSeeded) {
		// evicted between seeding and reservation
		if err := c.EnsureSeeded(ctx, productID); err != nil {
			return false, err
		}
		ok, err = c.store.Decrement(ctx, productID, n)
	}
	if err != nil {
		return false, fmt.Errorf("reserve stock: %w", err)
	}
	return ok, nil
}

// Release gives n units back. It returns false if the counter no longer
// exists, in which case the next seed reads the durable stock anyway.
func (c *StockCounter) Release(ctx context.Context, productID string, n int) (bool, error) {
	ok, err := c.store.Increment(ctx, productID, n)
	if err != nil {
		return false, fmt.Errorf("release stock: %w", err)
	}
	return ok, nil
}

func (c *StockCounter) Get(ctx context.Context, productID string) (int, bool, error) {
	return c.store.Get(ctx, productID)
}

// Set overwrites the counter, used to pre-warm before a sale opens.
func (c *StockCounter) Set(ctx context.Context, productID string, value int) error {
	return c.store.Set(ctx, productID, value, c.ttl)
}
