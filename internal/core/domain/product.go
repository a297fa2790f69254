package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID        string
	Name      string
	Price     decimal.Decimal
	Stock     int // durable source of truth
	CreatedAt time.Time
	UpdatedAt time.Time
}
