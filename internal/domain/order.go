package domain

import "time"

// OrderStatus is the lifecycle status of an order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderCompleted OrderStatus = "COMPLETED"
	OrderFailed    OrderStatus = "FAILED"
)

// Order is the durable record of a completed purchase. Amounts are in minor
// currency units.
type Order struct {
	ID            string      `json:"id"`
	UserID        string      `json:"user_id"`
	ResourceKey   string      `json:"resource_key"`
	ReservationID string      `json:"reservation_id"`
	Quantity      int64       `json:"quantity"`
	Amount        int64       `json:"amount"`
	Currency      string      `json:"currency"`
	Status        OrderStatus `json:"status"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}
