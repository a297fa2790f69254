package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/flashsale-orders/internal/core/domain"
	"github.com/rl1809/flashsale-orders/internal/port"
)

// Mock CounterStore
type mockCounterStore struct {
	mu       sync.Mutex
	values   map[string]int
	seedCall int
	getErr   error
	// honorCtx makes seeding fail on a cancelled context like a real client
	honorCtx bool
}

func newMockCounterStore() *mockCounterStore {
	return &mockCounterStore{values: make(map[string]int)}
}

func (m *mockCounterStore) Get(ctx context.Context, productID string) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return 0, false, m.getErr
	}
	v, ok := m.values[productID]
	return v, ok, nil
}

func (m *mockCounterStore) SetIfAbsent(ctx context.Context, productID string, value int, ttl time.Duration) (bool, error) {
	if m.honorCtx && ctx.Err() != nil {
		return false, ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seedCall++
	if _, ok := m.values[productID]; ok {
		return false, nil
	}
	m.values[productID] = value
	return true, nil
}

func (m *mockCounterStore) Set(ctx context.Context, productID string, value int, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[productID] = value
	return nil
}

func (m *mockCounterStore) Decrement(ctx context.Context, productID string, n int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[productID]
	if !ok {
		return false, domain.ErrCounterNotSeeded
	}
	if v < n {
		return false, nil
	}
	m.values[productID] = v - n
	return true, nil
}

func (m *mockCounterStore) Increment(ctx context.Context, productID string, n int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[productID]
	if !ok {
		return false, nil
	}
	m.values[productID] = v + n
	return true, nil
}

func (m *mockCounterStore) value(productID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[productID]
}

func (m *mockCounterStore) evict(productID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, productID)
}

// Mock PurchaseClaims
type mockClaims struct {
	mu     sync.Mutex
	claims map[string]bool
}

func newMockClaims() *mockClaims {
	return &mockClaims{claims: make(map[string]bool)}
}

func (m *mockClaims) Claim(ctx context.Context, userID, productID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := userID + ":" + productID
	if m.claims[key] {
		return false, nil
	}
	m.claims[key] = true
	return true, nil
}

func (m *mockClaims) Release(ctx context.Context, userID, productID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claims, userID+":"+productID)
	return nil
}

func (m *mockClaims) held(userID, productID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.claims[userID+":"+productID]
}

// Mock OrderRepository backed by an in-memory "database" with the same
// uniqueness rules as the orders table.
type mockOrderRepo struct {
	mu        sync.Mutex
	products  map[string]*domain.Product
	orders    []domain.Order
	txCount   int
	insertErr error
	// staleLookups makes the next n idempotency lookups miss, as a read
	// racing a concurrent commit would.
	staleLookups int
}

func newMockOrderRepo() *mockOrderRepo {
	return &mockOrderRepo{products: make(map[string]*domain.Product)}
}

func (m *mockOrderRepo) addProduct(id string, stock int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[id] = &domain.Product{ID: id, Name: id, Stock: stock}
}

func (m *mockOrderRepo) stock(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id].Stock
}

func (m *mockOrderRepo) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *mockOrderRepo) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productID]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockOrderRepo) FindByUserAndProduct(ctx context.Context, userID, productID string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.UserID == userID && o.ProductID == productID {
			cp := o
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockOrderRepo) FindByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.staleLookups > 0 {
		m.staleLookups--
		return nil, nil
	}
	for _, o := range m.orders {
		if o.IdempotencyKey != "" && o.IdempotencyKey == key {
			cp := o
			return &cp, nil
		}
	}
	return nil, nil
}

// WithinTx holds the repository lock for the whole transaction and applies
// staged writes only on success.
func (m *mockOrderRepo) WithinTx(ctx context.Context, fn func(tx port.OrderTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txCount++

	tx := &mockTx{repo: m, decrements: make(map[string]int)}
	if err := fn(tx); err != nil {
		return err
	}
	for id, n := range tx.decrements {
		m.products[id].Stock -= n
	}
	m.orders = append(m.orders, tx.inserts...)
	return nil
}

type mockTx struct {
	repo       *mockOrderRepo
	decrements map[string]int
	inserts    []domain.Order
}

func (t *mockTx) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	p, ok := t.repo.products[productID]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (t *mockTx) ConditionalDecrementStock(ctx context.Context, productID string) (int64, error) {
	p, ok := t.repo.products[productID]
	if !ok || p.Stock-t.decrements[productID] <= 0 {
		return 0, nil
	}
	t.decrements[productID]++
	return 1, nil
}

func (t *mockTx) InsertOrder(ctx context.Context, order domain.Order) error {
	if t.repo.insertErr != nil {
		return t.repo.insertErr
	}
	existing := make([]domain.Order, 0, len(t.repo.orders)+len(t.inserts))
	existing = append(existing, t.repo.orders...)
	existing = append(existing, t.inserts...)
	for _, o := range existing {
		if o.UserID == order.UserID && o.ProductID == order.ProductID {
			return domain.ErrAlreadyPurchased
		}
		if o.IdempotencyKey != "" && o.IdempotencyKey == order.IdempotencyKey {
			return port.ErrDuplicateIdempotencyKey
		}
	}
	t.inserts = append(t.inserts, order)
	return nil
}

// Mock WindowSource
type mockWindowSource struct {
	sales map[string]*domain.FlashSale
}

func (m *mockWindowSource) FindByProductID(ctx context.Context, productID string) (*domain.FlashSale, error) {
	s, ok := m.sales[productID]
	if !ok {
		return nil, domain.ErrSaleNotFound
	}
	return s, nil
}

func openSale(productIDs ...string) *mockWindowSource {
	src := &mockWindowSource{sales: make(map[string]*domain.FlashSale)}
	for _, id := range productIDs {
		src.sales[id] = &domain.FlashSale{
			ID:        "sale-" + id,
			ProductID: id,
			StartDate: time.Now().Add(-time.Hour).UTC().Format(time.RFC3339),
			EndDate:   time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		}
	}
	return src
}

// Mock OrderQueue that records jobs instead of delivering them
type mockQueue struct {
	mu   sync.Mutex
	jobs []domain.Job
	err  error
}

func (m *mockQueue) Enqueue(ctx context.Context, payload domain.OrderJob, opts port.EnqueueOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	job := domain.Job{
		ID:          uuid.NewString(),
		Payload:     payload,
		Attempts:    opts.Attempts,
		BackoffBase: opts.BackoffBase,
		State:       domain.JobStatePending,
	}
	m.jobs = append(m.jobs, job)
	return job.ID, nil
}

func (m *mockQueue) Consume(ctx context.Context, handler port.JobHandler) error {
	<-ctx.Done()
	return nil
}

func (m *mockQueue) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

// Mock OrderEventPublisher
type mockPublisher struct {
	mu     sync.Mutex
	events []domain.OrderEvent
}

func (m *mockPublisher) Publish(ctx context.Context, event domain.OrderEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockPublisher) last() (domain.OrderEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return domain.OrderEvent{}, false
	}
	return m.events[len(m.events)-1], true
}

var errBrokerDown = errors.New("broker down")

var defaultPolicy = port.EnqueueOptions{
	Attempts:         3,
	BackoffBase:      time.Second,
	RemoveOnComplete: true,
	RemoveOnFail:     false,
}
