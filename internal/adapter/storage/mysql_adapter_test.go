package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"github.com/rl1809/flashsale-orders/internal/core/domain"
	"github.com/rl1809/flashsale-orders/internal/port"
)

var (
	orderColumns   = []string{"id", "user_id", "product_id", "idempotency_key", "status", "created_by", "created_at", "updated_at"}
	productColumns = []string{"id", "name", "price", "stock", "created_at", "updated_at"}
)

func newMockAdapter(t *testing.T) (*MySQLAdapter, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewMySQLAdapter(db), mock
}

func TestFindByUserAndProduct(t *testing.T) {
	adapter, mock := newMockAdapter(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE user_id = ? AND product_id = ?")).
		WithArgs("user-1", "item-1").
		WillReturnRows(sqlmock.NewRows(orderColumns).
			AddRow("order-1", "user-1", "item-1", "job-1", "success", "alice", now, now))

	order, err := adapter.FindByUserAndProduct(context.Background(), "user-1", "item-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order == nil || order.Status != domain.OrderStatusSuccess || order.IdempotencyKey != "job-1" {
		t.Errorf("unexpected order: %+v", order)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestFindByIdempotencyKey_NotFound(t *testing.T) {
	adapter, mock := newMockAdapter(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE idempotency_key = ?")).
		WithArgs("job-404").
		WillReturnRows(sqlmock.NewRows(orderColumns))

	order, err := adapter.FindByIdempotencyKey(context.Background(), "job-404")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order != nil {
		t.Errorf("expected nil order, got %+v", order)
	}
}

func TestFindByIdempotencyKey_NullKey(t *testing.T) {
	adapter, mock := newMockAdapter(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE idempotency_key = ?")).
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows(orderColumns).
			AddRow("order-1", "user-1", "item-1", nil, "pending", "", now, now))

	order, err := adapter.FindByIdempotencyKey(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.IdempotencyKey != "" || order.Status != domain.OrderStatusPending {
		t.Errorf("unexpected order: %+v", order)
	}
}

func TestGetProduct(t *testing.T) {
	adapter, mock := newMockAdapter(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM products WHERE id = ?")).
		WithArgs("item-1").
		WillReturnRows(sqlmock.NewRows(productColumns).AddRow("item-1", "Phone", "199.99", 5, now, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM products WHERE id = ?")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(productColumns))

	p, err := adapter.GetProduct(context.Background(), "item-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Stock != 5 || !p.Price.Equal(decimal.RequireFromString("199.99")) {
		t.Errorf("unexpected product: %+v", p)
	}

	_, err = adapter.GetProduct(context.Background(), "missing")
	if !errors.Is(err, domain.ErrProductNotFound) {
		t.Errorf("expected ErrProductNotFound, got: %v", err)
	}
}

func TestFindByProductID(t *testing.T) {
	adapter, mock := newMockAdapter(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM flash_sales WHERE product_id = ?")).
		WithArgs("item-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "product_id", "start_date", "end_date", "created_by", "created_at"}).
			AddRow("sale-1", "item-1", "2026-01-01", "2026-01-02", "admin", now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM flash_sales WHERE product_id = ?")).
		WithArgs("item-2").
		WillReturnError(sql.ErrNoRows)

	sale, err := adapter.FindByProductID(context.Background(), "item-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sale.StartDate != "2026-01-01" || sale.EndDate != "2026-01-02" {
		t.Errorf("unexpected sale: %+v", sale)
	}

	_, err = adapter.FindByProductID(context.Background(), "item-2")
	if !errors.Is(err, domain.ErrSaleNotFound) {
		t.Errorf("expected ErrSaleNotFound, got: %v", err)
	}
}

func TestWithinTx_Commit(t *testing.T) {
	adapter, mock := newMockAdapter(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM products WHERE id = ?")).
		WithArgs("item-1").
		WillReturnRows(sqlmock.NewRows(productColumns).AddRow("item-1", "Phone", "10.00", 1, now, now))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE products")).
		WithArgs("item-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO orders")).
		WithArgs("order-1", "user-1", "item-1", "job-1", domain.OrderStatusSuccess, "alice", now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := adapter.WithinTx(context.Background(), func(tx port.OrderTx) error {
		if _, err := tx.GetProduct(context.Background(), "item-1"); err != nil {
			return err
		}
		rows, err := tx.ConditionalDecrementStock(context.Background(), "item-1")
		if err != nil {
			return err
		}
		if rows != 1 {
			return fmt.Errorf("expected 1 row, got %d", rows)
		}
		return tx.InsertOrder(context.Background(), domain.Order{
			ID:             "order-1",
			UserID:         "user-1",
			ProductID:      "item-1",
			IdempotencyKey: "job-1",
			Status:         domain.OrderStatusSuccess,
			CreatedBy:      "alice",
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestWithinTx_RollbackOnOutOfStock(t *testing.T) {
	adapter, mock := newMockAdapter(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE products")).
		WithArgs("item-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := adapter.WithinTx(context.Background(), func(tx port.OrderTx) error {
		rows, err := tx.ConditionalDecrementStock(context.Background(), "item-1")
		if err != nil {
			return err
		}
		if rows == 0 {
			return domain.ErrDurableOutOfStock
		}
		return nil
	})
	if !errors.Is(err, domain.ErrDurableOutOfStock) {
		t.Fatalf("expected ErrDurableOutOfStock, got: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestInsertOrder_DuplicateKeys(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    error
	}{
		{
			name:    "duplicate user and product",
			message: "Duplicate entry 'user-1-item-1' for key 'orders." + userProductIndex + "'",
			want:    domain.ErrAlreadyPurchased,
		},
		{
			name:    "duplicate idempotency key",
			message: "Duplicate entry 'job-1' for key 'orders." + idempotencyKeyIndex + "'",
			want:    port.ErrDuplicateIdempotencyKey,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter, mock := newMockAdapter(t)

			mock.ExpectBegin()
			mock.ExpectExec(regexp.QuoteMeta("INSERT INTO orders")).
				WillReturnError(&mysql.MySQLError{Number: erDupEntry, Message: tt.message})
			mock.ExpectRollback()

			err := adapter.WithinTx(context.Background(), func(tx port.OrderTx) error {
				return tx.InsertOrder(context.Background(), domain.Order{
					ID: "order-2", UserID: "user-1", ProductID: "item-1", IdempotencyKey: "job-1",
					Status: domain.OrderStatusSuccess,
				})
			})
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got: %v", tt.want, err)
			}
		})
	}
}

func TestMigrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS products").WillReturnError(errors.New("connection refused"))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS products").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS flash_sales").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS orders").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := Migrate(context.Background(), db, 2, time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func getMySQLDB(t *testing.T) *sql.DB {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/flashsale?parseTime=true"
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	return db
}

func TestConditionalDecrementStock_NeverNegative(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	if err := Migrate(ctx, db, 0, 0); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	adapter := NewMySQLAdapter(db)

	// Setup
	if err := adapter.CreateProduct(ctx, domain.Product{ID: "test-item", Name: "Test", Price: decimal.NewFromInt(1), Stock: 1}); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	var affected []int64
	for i := 0; i < 2; i++ {
		err := adapter.WithinTx(ctx, func(tx port.OrderTx) error {
			rows, err := tx.ConditionalDecrementStock(ctx, "test-item")
			affected = append(affected, rows)
			return err
		})
		if err != nil {
			t.Fatalf("tx failed: %v", err)
		}
	}

	if affected[0] != 1 || affected[1] != 0 {
		t.Errorf("expected [1 0] affected rows, got %v", affected)
	}

	p, err := adapter.GetProduct(ctx, "test-item")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if p.Stock != 0 {
		t.Errorf("expected stock 0, got %d", p.Stock)
	}
}
