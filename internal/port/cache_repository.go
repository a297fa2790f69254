package port

import (
	"context"
	"time"
)

type CounterStore interface {
	// Get returns the current counter value; ok is false if the key is absent
	Get(ctx context.Context, productID string) (value int, ok bool, err error)

	// SetIfAbsent seeds the counter only if no value exists, returns false if already seeded
	SetIfAbsent(ctx context.Context, productID string, value int, ttl time.Duration) (bool, error)

	// Set overwrites the counter (out-of-band pre-warming)
	Set(ctx context.Context, productID string, value int, ttl time.Duration) error

	// Decrement atomically decreases the counter if it holds at least n,
	// returns domain.ErrCounterNotSeeded if the key is absent
	Decrement(ctx context.Context, productID string, n int) (bool, error)

	// Increment atomically restores n units, returns false if the key is absent
	Increment(ctx context.Context, productID string, n int) (bool, error)
}

type PurchaseClaims interface {
	// Claim marks a purchase as in flight, returns false if already claimed
	Claim(ctx context.Context, userID, productID string) (bool, error)

	// Release drops the claim so the user may try again
	Release(ctx context.Context, userID, productID string) error
}
