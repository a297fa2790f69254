package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	userProductIndex    = "uq_orders_user_product"
	idempotencyKeyIndex = "uq_orders_idempotency_key"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		price DECIMAL(12,2) NOT NULL DEFAULT 0,
		stock INT NOT NULL DEFAULT 0,
		created_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
		updated_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3) ON UPDATE CURRENT_TIMESTAMP(3),
		CONSTRAINT chk_products_stock CHECK (stock >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS flash_sales (
		id VARCHAR(64) PRIMARY KEY,
		product_id VARCHAR(64) NOT NULL,
		start_date VARCHAR(64) NOT NULL,
		end_date VARCHAR(64) NOT NULL,
		created_by VARCHAR(255) NOT NULL DEFAULT '',
		created_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
		INDEX idx_flash_sales_window (product_id, start_date, end_date)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id VARCHAR(36) PRIMARY KEY,
		user_id VARCHAR(64) NOT NULL,
		product_id VARCHAR(64) NOT NULL,
		idempotency_key VARCHAR(64) NULL,
		status VARCHAR(16) NOT NULL,
		created_by VARCHAR(255) NOT NULL DEFAULT '',
		created_at DATETIME(3) NOT NULL,
		updated_at DATETIME(3) NOT NULL,
		UNIQUE KEY ` + userProductIndex + ` (user_id, product_id),
		UNIQUE KEY ` + idempotencyKeyIndex + ` (idempotency_key)
	)`,
}

// Migrate creates the schema, retrying each statement while MySQL is still
// coming up.
func Migrate(ctx context.Context, db *sql.DB, retries int, delay time.Duration) error {
	for _, stmt := range schema {
		var err error
		for attempt := 0; attempt <= retries; attempt++ {
			if _, err = db.ExecContext(ctx, stmt); err == nil {
				break
			}
			if attempt == retries {
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
