package repository

import (
	"context"
	"time"

	"github.com/utafrali/flashsale/internal/domain"
)

// WALRepository defines persistence for write-ahead log entries.
type WALRepository interface {
	// NextLSN returns the next value of the log sequence.
	NextLSN(ctx context.Context) (int64, error)

	// Insert appends a new entry.
	Insert(ctx context.Context, entry *domain.WALEntry) error

	// UpdateStatus moves an entry to a new status. Terminal statuses also set
	// completed_at.
	UpdateStatus(ctx context.Context, logID string, status domain.WALStatus, message string) error

	// GetByID retrieves a single entry.
	GetByID(ctx context.Context, logID string) (*domain.WALEntry, error)

	// FindPending returns non-terminal entries ordered by LSN.
	FindPending(ctx context.Context, limit int) ([]domain.WALEntry, error)

	// FindByTransaction returns all entries of a transaction ordered by LSN.
	FindByTransaction(ctx context.Context, transactionID string) ([]domain.WALEntry, error)

	// FindStuck returns non-terminal entries created before the cutoff.
	FindStuck(ctx context.Context, olderThan time.Time, limit int) ([]domain.WALEntry, error)

	// InsertBackup writes a secondary copy of an entry.
	InsertBackup(ctx context.Context, entry *domain.WALEntry) error

	// ArchiveBefore moves terminal entries created before the cutoff into the
	// archive table and deletes the originals. Returns the number moved.
	ArchiveBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// OrderRepository defines persistence for orders.
type OrderRepository interface {
	Create(ctx context.Context, order *domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) error
}

// PaymentRepository defines persistence for payments.
type PaymentRepository interface {
	Create(ctx context.Context, payment *domain.Payment) error
	GetByOrderID(ctx context.Context, orderID string) (*domain.Payment, error)
	UpdateStatus(ctx context.Context, id string, status domain.PaymentStatus, failureReason string) error
}

// ReservationRepository defines the durable audit copy of reservations. The
// ledger remains authoritative for live counters; these rows feed reporting
// and recovery.
type ReservationRepository interface {
	Upsert(ctx context.Context, reservation *domain.Reservation) error
	GetByID(ctx context.Context, id string) (*domain.Reservation, error)
}
