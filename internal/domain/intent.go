package domain

// PurchaseIntent is the WAL payload recorded before a purchase runs. It
// carries enough to undo or investigate the purchase after a crash.
type PurchaseIntent struct {
	ReservationID string `json:"reservation_id"`
	ResourceKey   string `json:"resource_key"`
	UserID        string `json:"user_id"`
	OrderID       string `json:"order_id"`
	Quantity      int64  `json:"quantity"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	PaymentMethod string `json:"payment_method"`
}

// IntentTableName is the logical table recorded on purchase-intent WAL
// entries.
const IntentTableName = "purchase_intents"

// PaymentAttempt is the WAL payload recorded for the authorization phase of a
// purchase. Its entry links back to the intent entry via RelatedLogID.
type PaymentAttempt struct {
	ReservationID string `json:"reservation_id"`
	OrderID       string `json:"order_id"`
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	PaymentMethod string `json:"payment_method"`
}

// PaymentTableName is the logical table recorded on payment-phase WAL entries.
const PaymentTableName = "payments"
