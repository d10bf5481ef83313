package domain

import "time"

// PaymentStatus is the lifecycle status of a payment.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
)

// Payment is the durable record of a gateway transaction. Amounts are in
// minor currency units.
type Payment struct {
	ID            string        `json:"id"`
	OrderID       string        `json:"order_id"`
	TransactionID string        `json:"transaction_id"`
	Method        string        `json:"method"`
	Gateway       string        `json:"gateway"`
	Amount        int64         `json:"amount"`
	Currency      string        `json:"currency"`
	Status        PaymentStatus `json:"status"`
	FailureReason string        `json:"failure_reason,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}
