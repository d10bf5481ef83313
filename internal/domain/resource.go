package domain

import "time"

// ResourceStatus is a point-in-time view of a sale resource's counters.
// Invariant: Available + Reserved <= Total (confirmed units leave Total).
type ResourceStatus struct {
	Key       string `json:"key"`
	Total     int64  `json:"total"`
	Available int64  `json:"available"`
	Reserved  int64  `json:"reserved"`
}

// ReservationState is the lifecycle state of a reservation.
type ReservationState string

const (
	ReservationReserved  ReservationState = "RESERVED"
	ReservationConfirmed ReservationState = "CONFIRMED"
	ReservationCancelled ReservationState = "CANCELLED"
	ReservationExpired   ReservationState = "EXPIRED"
)

// Reservation is a short-lived hold on resource units, keyed by a
// caller-supplied idempotency ID.
type Reservation struct {
	ID          string           `json:"id"`
	ResourceKey string           `json:"resource_key"`
	UserID      string           `json:"user_id,omitempty"`
	Quantity    int64            `json:"quantity"`
	State       ReservationState `json:"state"`
	ExpiresAt   time.Time        `json:"expires_at"`
	CreatedAt   time.Time        `json:"created_at"`
}
