package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/flashsale-orders/internal/core/domain"
	"github.com/rl1809/flashsale-orders/internal/port"
)

const erDupEntry = 1062

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

func (m *MySQLAdapter) WithinTx(ctx context.Context, fn func(tx port.OrderTx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&mysqlTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	return getProduct(ctx, m.db, productID)
}

func (m *MySQLAdapter) FindByUserAndProduct(ctx context.Context, userID, productID string) (*domain.Order, error) {
	return findOrder(ctx, m.db, `
		SELECT id, user_id, product_id, idempotency_key, status, created_by, created_at, updated_at
		FROM orders WHERE user_id = ? AND product_id = ?`, userID, productID)
}

func (m *MySQLAdapter) FindByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	return findOrder(ctx, m.db, `
		SELECT id, user_id, product_id, idempotency_key, status, created_by, created_at, updated_at
		FROM orders WHERE idempotency_key = ?`, key)
}

func (m *MySQLAdapter) FindByProductID(ctx context.Context, productID string) (*domain.FlashSale, error) {
	var sale domain.FlashSale
	err := m.db.QueryRowContext(ctx, `
		SELECT id, product_id, start_date, end_date, created_by, created_at
		FROM flash_sales WHERE product_id = ?
		ORDER BY created_at DESC LIMIT 1`, productID,
	).Scan(&sale.ID, &sale.ProductID, &sale.StartDate, &sale.EndDate, &sale.CreatedBy, &sale.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSaleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query flash sale: %w", err)
	}
	return &sale, nil
}

// CreateProduct and CreateFlashSale are used by seeding tools and tests.
func (m *MySQLAdapter) CreateProduct(ctx context.Context, p domain.Product) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO products (id, name, price, stock) VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE name = VALUES(name), price = VALUES(price), stock = VALUES(stock)`,
		p.ID, p.Name, p.Price, p.Stock,
	)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) CreateFlashSale(ctx context.Context, sale domain.FlashSale) error {
	if _, err := sale.Window(); err != nil {
		return err
	}
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO flash_sales (id, product_id, start_date, end_date, created_by)
		VALUES (?, ?, ?, ?, ?)`,
		sale.ID, sale.ProductID, sale.StartDate, sale.EndDate, sale.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("insert flash sale: %w", err)
	}
	return nil
}

type mysqlTx struct {
	tx *sql.Tx
}

func (t *mysqlTx) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	return getProduct(ctx, t.tx, productID)
}

func (t *mysqlTx) ConditionalDecrementStock(ctx context.Context, productID string) (int64, error) {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE products
		SET stock = stock - 1, updated_at = NOW(3)
		WHERE id = ? AND stock > 0`, productID,
	)
	if err != nil {
		return 0, fmt.Errorf("update stock: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return rows, nil
}

func (t *mysqlTx) InsertOrder(ctx context.Context, order domain.Order) error {
	var key any
	if order.IdempotencyKey != "" {
		key = order.IdempotencyKey
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, product_id, idempotency_key, status, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.UserID, order.ProductID, key, order.Status, order.CreatedBy,
		order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return classifyInsertErr(err)
	}
	return nil
}

func classifyInsertErr(err error) error {
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == erDupEntry {
		if strings.Contains(me.Message, idempotencyKeyIndex) {
			return port.ErrDuplicateIdempotencyKey
		}
		return domain.ErrAlreadyPurchased
	}
	return fmt.Errorf("insert order: %w", err)
}

func getProduct(ctx context.Context, q queryer, productID string) (*domain.Product, error) {
	var p domain.Product
	err := q.QueryRowContext(ctx, `
		SELECT id, name, price, stock, created_at, updated_at
		FROM products WHERE id = ?`, productID,
	).Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.CreatedAt, &p.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &p, nil
}

func findOrder(ctx context.Context, q queryer, query string, args ...any) (*domain.Order, error) {
	var (
		o      domain.Order
		key    sql.NullString
		status string
	)
	err := q.QueryRowContext(ctx, query, args...).Scan(
		&o.ID, &o.UserID, &o.ProductID, &key, &status, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	o.IdempotencyKey = key.String
	o.Status = domain.OrderStatus(status)
	return &o, nil
}
