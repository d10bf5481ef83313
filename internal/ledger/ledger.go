package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/utafrali/flashsale/internal/domain"
)

// Sentinel errors for lookup operations. Outcome codes, not errors, carry
// expected business results; these errors mean the data is absent or the
// transport failed.
var (
	ErrResourceNotFound    = errors.New("ledger: resource not found")
	ErrReservationNotFound = errors.New("ledger: reservation not found")
)

// Code classifies the result of a ledger operation. Codes are control flow:
// a declined reservation is a normal answer, not a Go error.
type Code string

const (
	CodeSuccess              Code = "SUCCESS"
	CodeInsufficientStock    Code = "INSUFFICIENT_STOCK"
	CodeInvalidQuantity      Code = "INVALID_QUANTITY"
	CodeAlreadyReserved      Code = "ALREADY_RESERVED"
	CodeAlreadyConfirmed     Code = "ALREADY_CONFIRMED"
	CodeAlreadyCancelled     Code = "ALREADY_CANCELLED"
	CodeInsufficientReserved Code = "INSUFFICIENT_RESERVED"
	CodeReservationNotFound  Code = "RESERVATION_NOT_FOUND"
)

// Outcome is the typed result of a reserve/confirm/cancel operation.
// Applied reports whether this call changed the counters; an idempotent
// replay returns Applied=false with the matching ALREADY_* code.
// Counter snapshots are -1 when the resource does not exist.
type Outcome struct {
	Applied   bool
	Code      Code
	Available int64
	Reserved  int64
	Total     int64
}

// ReserveOK reports whether the outcome completes a reserve step, counting
// idempotent replays as success.
func (o Outcome) ReserveOK() bool {
	return o.Code == CodeSuccess || o.Code == CodeAlreadyReserved
}

// ConfirmOK reports whether the outcome completes a confirm step.
func (o Outcome) ConfirmOK() bool {
	return o.Code == CodeSuccess || o.Code == CodeAlreadyConfirmed
}

// CancelOK reports whether the outcome completes a cancel step. Cancelling an
// already-cancelled reservation is a no-op success.
func (o Outcome) CancelOK() bool {
	return o.Code == CodeSuccess || o.Code == CodeAlreadyCancelled
}

// Ledger is the atomic resource-reservation counter store. All three
// mutations are atomic per resource and idempotent by reservation ID.
type Ledger interface {
	// Reserve places a hold on qty units. On first success available
	// decreases and reserved increases by qty, and the reservation expires
	// after ttl unless confirmed or cancelled.
	Reserve(ctx context.Context, resourceKey string, qty int64, reservationID string, ttl time.Duration) (Outcome, error)

	// Confirm consumes a hold: reserved and total both decrease by qty.
	Confirm(ctx context.Context, resourceKey string, qty int64, reservationID string) (Outcome, error)

	// Cancel releases a hold: available increases and reserved decreases by
	// qty. Rejected once the reservation is confirmed.
	Cancel(ctx context.Context, resourceKey string, qty int64, reservationID string) (Outcome, error)

	// InitializeResource seeds the counters for a resource. Bootstrap and
	// admin use only.
	InitializeResource(ctx context.Context, resourceKey string, total, available int64) error

	// ResourceStatus reads the current counters.
	ResourceStatus(ctx context.Context, resourceKey string) (domain.ResourceStatus, error)

	// Reservation reads a reservation record.
	Reservation(ctx context.Context, reservationID string) (domain.Reservation, error)

	// ExpireDue releases reservations whose TTL elapsed without a terminal
	// transition, restoring available stock. Returns the released reservations.
	ExpireDue(ctx context.Context, now time.Time, limit int64) ([]domain.Reservation, error)
}
