package storage

import (
	"context"
	"sync"

	"github.com/rl1809/flashsale-orders/internal/core/domain"
	"github.com/rl1809/flashsale-orders/internal/port"
)

// MemoryStore keeps products, sales and orders in process. Transactions
// are serialized and staged, so a failed transaction leaves no trace.
type MemoryStore struct {
	mu       sync.Mutex
	products map[string]domain.Product
	sales    map[string]domain.FlashSale
	orders   []domain.Order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products: make(map[string]domain.Product),
		sales:    make(map[string]domain.FlashSale),
	}
}

func (s *MemoryStore) CreateProduct(ctx context.Context, p domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
	return nil
}

func (s *MemoryStore) CreateFlashSale(ctx context.Context, sale domain.FlashSale) error {
	if _, err := sale.Window(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sales[sale.ProductID] = sale
	return nil
}

func (s *MemoryStore) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	return &p, nil
}

func (s *MemoryStore) FindByProductID(ctx context.Context, productID string) (*domain.FlashSale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sale, ok := s.sales[productID]
	if !ok {
		return nil, domain.ErrSaleNotFound
	}
	return &sale, nil
}

func (s *MemoryStore) FindByUserAndProduct(ctx context.Context, userID, productID string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.UserID == userID && o.ProductID == productID {
			o := o
			return &o, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) FindByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if key != "" && o.IdempotencyKey == key {
			o := o
			return &o, nil
		}
	}
	return nil, nil
}

// Orders returns a snapshot of committed orders.
func (s *MemoryStore) Orders() []domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Order(nil), s.orders...)
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx port.OrderTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{store: s, stock: make(map[string]int)}
	if err := fn(tx); err != nil {
		return err
	}

	for id, stock := range tx.stock {
		p := s.products[id]
		p.Stock = stock
		s.products[id] = p
	}
	s.orders = append(s.orders, tx.inserts...)
	return nil
}

// memoryTx runs with the store lock held.
type memoryTx struct {
	store   *MemoryStore
	stock   map[string]int
	inserts []domain.Order
}

func (t *memoryTx) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	p, ok := t.store.products[productID]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	if stock, staged := t.stock[productID]; staged {
		p.Stock = stock
	}
	return &p, nil
}

func (t *memoryTx) ConditionalDecrementStock(ctx context.Context, productID string) (int64, error) {
	p, err := t.GetProduct(ctx, productID)
	if err != nil {
		return 0, nil
	}
	if p.Stock <= 0 {
		return 0, nil
	}
	t.stock[productID] = p.Stock - 1
	return 1, nil
}

func (t *memoryTx) InsertOrder(ctx context.Context, order domain.Order) error {
	existing := make([]domain.Order, 0, len(t.store.orders)+len(t.inserts))
	existing = append(existing, t.store.orders...)
	existing = append(existing, t.inserts...)

	for _, o := range existing {
		if order.IdempotencyKey != "" && o.IdempotencyKey == order.IdempotencyKey {
			return port.ErrDuplicateIdempotencyKey
		}
		if o.UserID == order.UserID && o.ProductID == order.ProductID {
			return domain.ErrAlreadyPurchased
		}
	}
	t.inserts = append(t.inserts, order)
	return nil
}
