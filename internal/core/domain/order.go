package domain

import "time"

type OrderStatus string

const (
	OrderStatusPending OrderStatus = "pending"
	OrderStatusSuccess OrderStatus = "success"
	OrderStatusFailed  OrderStatus = "failed"
)

// Blocks reports whether an order in this status prevents the user from
// purchasing the same product again.
func (s OrderStatus) Blocks() bool {
	return s == OrderStatusPending || s == OrderStatusSuccess
}

type Order struct {
	ID             string
	UserID         string
	ProductID      string
	IdempotencyKey string // empty means NULL
	Status         OrderStatus
	CreatedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
