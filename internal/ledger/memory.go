package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/utafrali/flashsale/internal/domain"
)

// MemoryLedger is an in-process Ledger with the same transition rules as the
// Redis scripts. It backs tests and local development without a Redis server;
// it provides no durability and no cross-process atomicity.
type MemoryLedger struct {
	mu           sync.Mutex
	resources    map[string]*domain.ResourceStatus
	reservations map[string]*domain.Reservation
}

// NewMemoryLedger creates an empty in-process ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		resources:    make(map[string]*domain.ResourceStatus),
		reservations: make(map[string]*domain.Reservation),
	}
}

func (l *MemoryLedger) snapshot(resourceKey string) (int64, int64, int64) {
	if res, ok := l.resources[resourceKey]; ok {
		return res.Available, res.Reserved, res.Total
	}
	return -1, -1, -1
}

func (l *MemoryLedger) outcome(applied bool, code Code, resourceKey string) Outcome {
	a, r, t := l.snapshot(resourceKey)
	return Outcome{Applied: applied, Code: code, Available: a, Reserved: r, Total: t}
}

// Reserve places a hold on qty units of the resource.
func (l *MemoryLedger) Reserve(ctx context.Context, resourceKey string, qty int64, reservationID string, ttl time.Duration) (Outcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if qty <= 0 {
		return Outcome{Code: CodeInvalidQuantity, Available: -1, Reserved: -1, Total: -1}, nil
	}

	if resv, ok := l.reservations[reservationID]; ok {
		switch resv.State {
		case domain.ReservationReserved:
			return l.outcome(false, CodeAlreadyReserved, resourceKey), nil
		case domain.ReservationConfirmed:
			return l.outcome(false, CodeAlreadyConfirmed, resourceKey), nil
		default:
			return l.outcome(false, CodeAlreadyCancelled, resourceKey), nil
		}
	}

	res, ok := l.resources[resourceKey]
	if !ok || res.Available < qty {
		return l.outcome(false, CodeInsufficientStock, resourceKey), nil
	}

	now := time.Now().UTC()
	res.Available -= qty
	res.Reserved += qty
	l.reservations[reservationID] = &domain.Reservation{
		ID:          reservationID,
		ResourceKey: resourceKey,
		Quantity:    qty,
		State:       domain.ReservationReserved,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
	}
	return l.outcome(true, CodeSuccess, resourceKey), nil
}

// Confirm consumes a hold.
func (l *MemoryLedger) Confirm(ctx context.Context, resourceKey string, qty int64, reservationID string) (Outcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if qty <= 0 {
		return Outcome{Code: CodeInvalidQuantity, Available: -1, Reserved: -1, Total: -1}, nil
	}

	resv, ok := l.reservations[reservationID]
	if !ok {
		return l.outcome(false, CodeReservationNotFound, resourceKey), nil
	}
	switch resv.State {
	case domain.ReservationConfirmed:
		return l.outcome(false, CodeAlreadyConfirmed, resourceKey), nil
	case domain.ReservationCancelled, domain.ReservationExpired:
		return l.outcome(false, CodeAlreadyCancelled, resourceKey), nil
	}

	res, ok := l.resources[resourceKey]
	if !ok || res.Reserved < qty {
		return l.outcome(false, CodeInsufficientReserved, resourceKey), nil
	}

	res.Reserved -= qty
	res.Total -= qty
	resv.State = domain.ReservationConfirmed
	return l.outcome(true, CodeSuccess, resourceKey), nil
}

// Cancel releases a hold.
func (l *MemoryLedger) Cancel(ctx context.Context, resourceKey string, qty int64, reservationID string) (Outcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if qty <= 0 {
		return Outcome{Code: CodeInvalidQuantity, Available: -1, Reserved: -1, Total: -1}, nil
	}

	resv, ok := l.reservations[reservationID]
	if !ok {
		return l.outcome(false, CodeReservationNotFound, resourceKey), nil
	}
	switch resv.State {
	case domain.ReservationConfirmed:
		return l.outcome(false, CodeAlreadyConfirmed, resourceKey), nil
	case domain.ReservationCancelled, domain.ReservationExpired:
		return l.outcome(false, CodeAlreadyCancelled, resourceKey), nil
	}

	res, ok := l.resources[resourceKey]
	if !ok || res.Reserved < qty {
		return l.outcome(false, CodeInsufficientReserved, resourceKey), nil
	}

	res.Available += qty
	res.Reserved -= qty
	resv.State = domain.ReservationCancelled
	return l.outcome(true, CodeSuccess, resourceKey), nil
}

// InitializeResource seeds the counters for a resource.
func (l *MemoryLedger) InitializeResource(ctx context.Context, resourceKey string, total, available int64) error {
	if total < 0 || available < 0 || available > total {
		return fmt.Errorf("invalid counters total=%d available=%d", total, available)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.resources[resourceKey] = &domain.ResourceStatus{
		Key:       resourceKey,
		Total:     total,
		Available: available,
		Reserved:  0,
	}
	return nil
}

// ResourceStatus reads the current counters for a resource.
func (l *MemoryLedger) ResourceStatus(ctx context.Context, resourceKey string) (domain.ResourceStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, ok := l.resources[resourceKey]
	if !ok {
		return domain.ResourceStatus{}, ErrResourceNotFound
	}
	return *res, nil
}

// Reservation reads a reservation record.
func (l *MemoryLedger) Reservation(ctx context.Context, reservationID string) (domain.Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	resv, ok := l.reservations[reservationID]
	if !ok {
		return domain.Reservation{}, ErrReservationNotFound
	}
	return *resv, nil
}

// ExpireDue releases reservations whose TTL elapsed without a terminal
// transition.
func (l *MemoryLedger) ExpireDue(ctx context.Context, now time.Time, limit int64) ([]domain.Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var released []domain.Reservation
	for _, resv := range l.reservations {
		if int64(len(released)) >= limit {
			break
		}
		if resv.State != domain.ReservationReserved || resv.ExpiresAt.After(now) {
			continue
		}
		if res, ok := l.resources[resv.ResourceKey]; ok {
			res.Available += resv.Quantity
			res.Reserved -= resv.Quantity
		}
		resv.State = domain.ReservationExpired
		released = append(released, *resv)
	}
	return released, nil
}
