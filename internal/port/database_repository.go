package port

import (
	"context"

	"github.com/rl1809/flashsale-orders/internal/core/domain"
)

type OrderRepository interface {
	// FindByUserAndProduct returns nil when the user has no order for the product
	FindByUserAndProduct(ctx context.Context, userID, productID string) (*domain.Order, error)

	// FindByIdempotencyKey returns nil when no order carries the key
	FindByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error)

	// WithinTx runs fn in a transaction, committing only if fn returns nil
	WithinTx(ctx context.Context, fn func(tx OrderTx) error) error
}

type OrderTx interface {
	// GetProduct returns domain.ErrProductNotFound when missing
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)

	// ConditionalDecrementStock decrements stock only while stock > 0, returns affected rows
	ConditionalDecrementStock(ctx context.Context, productID string) (int64, error)

	// InsertOrder returns domain.ErrAlreadyPurchased on a duplicate (user, product)
	// and ErrDuplicateIdempotencyKey on a duplicate key
	InsertOrder(ctx context.Context, order domain.Order) error
}

type ProductRepository interface {
	// GetProduct returns domain.ErrProductNotFound when missing
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
}

type WindowSource interface {
	// FindByProductID returns domain.ErrSaleNotFound when no sale exists
	FindByProductID(ctx context.Context, productID string) (*domain.FlashSale, error)
}
