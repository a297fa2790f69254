package domain

import "time"

type OrderEventType string

const (
	OrderEventSucceeded OrderEventType = "order.succeeded"
	OrderEventFailed    OrderEventType = "order.failed"
)

type OrderEvent struct {
	Type       OrderEventType `json:"type"`
	OrderID    string         `json:"orderId,omitempty"`
	JobID      string         `json:"jobId"`
	UserID     string         `json:"userId"`
	ProductID  string         `json:"productId"`
	Reason     Reason         `json:"reason,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}
