package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/flashsale-orders/internal/core/domain"
)

const (
	stockKeyPrefix = "stock:"
	claimKeyPrefix = "purchase:"
	claimTTL       = 24 * time.Hour
)

// returns -1 when the key is absent so callers can seed and retry
var decrementStockScript = redis.NewScript(`
local key = KEYS[1]
local quantity = tonumber(ARGV[1])

local current = redis.call('GET', key)
if not current then
	return -1
end

current = tonumber(current)
if current >= quantity then
	redis.call('DECRBY', key, quantity)
	return 1
end

return 0
`)

// never creates the key: a restore after eviction is left to the next seed
var incrementStockScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end

redis.call('INCRBY', KEYS[1], tonumber(ARGV[1]))
return 1
`)

type RedisAdapter struct {
	client   *redis.Client
	claimTTL time.Duration
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client, claimTTL: claimTTL}
}

// WithClaimTTL overrides how long a purchase claim survives without release.
func (r *RedisAdapter) WithClaimTTL(ttl time.Duration) *RedisAdapter {
	if ttl > 0 {
		r.claimTTL = ttl
	}
	return r
}

func stockKey(productID string) string { return stockKeyPrefix + productID }

func claimKey(userID, productID string) string {
	return claimKeyPrefix + userID + ":" + productID
}

func (r *RedisAdapter) Get(ctx context.Context, productID string) (int, bool, error) {
	v, err := r.client.Get(ctx, stockKey(productID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func (r *RedisAdapter) SetIfAbsent(ctx context.Context, productID string, value int, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, stockKey(productID), value, ttl).Result()
}

func (r *RedisAdapter) Set(ctx context.Context, productID string, value int, ttl time.Duration) error {
	return r.client.Set(ctx, stockKey(productID), value, ttl).Err()
}

func (r *RedisAdapter) Decrement(ctx context.Context, productID string, n int) (bool, error) {
	result, err := decrementStockScript.Run(ctx, r.client, []string{stockKey(productID)}, n).Int()
	if err != nil {
		return false, err
	}

	switch result {
	case 1:
		return true, nil
	case -1:
		return false, domain.ErrCounterNotSeeded
	default:
		return false, nil
	}
}

func (r *RedisAdapter) Increment(ctx context.Context, productID string, n int) (bool, error) {
	result, err := incrementStockScript.Run(ctx, r.client, []string{stockKey(productID)}, n).Int()
	if err != nil {
		return false, err
	}

	return result == 1, nil
}

func (r *RedisAdapter) Claim(ctx context.Context, userID, productID string) (bool, error) {
	return r.client.SetNX(ctx, claimKey(userID, productID), 1, r.claimTTL).Result()
}

func (r *RedisAdapter) Release(ctx context.Context, userID, productID string) error {
	return r.client.Del(ctx, claimKey(userID, productID)).Err()
}
