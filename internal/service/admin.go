package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/utafrali/flashsale/internal/buffer"
	"github.com/utafrali/flashsale/internal/domain"
	"github.com/utafrali/flashsale/internal/event"
	"github.com/utafrali/flashsale/internal/ledger"
	"github.com/utafrali/flashsale/internal/lock"
	apperrors "github.com/utafrali/flashsale/pkg/errors"
)

const (
	adminLockTTL  = 10 * time.Second
	adminLockWait = 5 * time.Second

	maxPendingWALPage = 500
)

// BufferControl is the slice of the write buffer the admin surface exposes.
type BufferControl interface {
	Status() buffer.Status
	Flush(ctx context.Context) int
}

// WALReader lists write-ahead log entries.
type WALReader interface {
	FindPending(ctx context.Context, limit int) ([]domain.WALEntry, error)
}

// GatewayHealthReporter summarizes gateway health by name.
type GatewayHealthReporter interface {
	HealthSummary(ctx context.Context) map[string]bool
}

// AdminService backs the operational endpoints: buffer inspection, stock
// management, lock overrides, and WAL visibility.
type AdminService struct {
	buffer   BufferControl
	locker   lock.Locker
	ledger   ledger.Ledger
	wal      WALReader
	gateways GatewayHealthReporter
	events   event.Publisher
	logger   *slog.Logger
}

// NewAdminService wires the admin surface.
func NewAdminService(
	buf BufferControl,
	locker lock.Locker,
	led ledger.Ledger,
	wal WALReader,
	gateways GatewayHealthReporter,
	events event.Publisher,
	logger *slog.Logger,
) *AdminService {
	if events == nil {
		events = event.Nop{}
	}
	return &AdminService{
		buffer:   buf,
		locker:   locker,
		ledger:   led,
		wal:      wal,
		gateways: gateways,
		events:   events,
		logger:   logger,
	}
}

// BufferStatus returns the write buffer snapshot.
func (s *AdminService) BufferStatus() buffer.Status {
	return s.buffer.Status()
}

// FlushBuffer synchronously drains the write buffer and returns how many
// commands were processed.
func (s *AdminService) FlushBuffer(ctx context.Context) int {
	flushed := s.buffer.Flush(ctx)
	s.logger.InfoContext(ctx, "write buffer flushed by operator",
		slog.Int("flushed", flushed),
	)
	return flushed
}

// ForceUnlock removes a lock regardless of who holds it. Operator escape
// hatch for crashed holders.
func (s *AdminService) ForceUnlock(ctx context.Context, key string) error {
	if key == "" {
		return apperrors.InvalidInput("lock key is required")
	}
	if err := s.locker.ForceRelease(ctx, key); err != nil {
		return apperrors.Wrap(err, "force release lock")
	}
	s.logger.WarnContext(ctx, "lock force released",
		slog.String("key", key),
	)
	return nil
}

// InitializeResource seeds or resets a resource's stock counters. The
// distributed lock keeps concurrent operators from interleaving resets; the
// purchase hot path never takes this lock.
func (s *AdminService) InitializeResource(ctx context.Context, resourceKey string, total int64) (domain.ResourceStatus, error) {
	if resourceKey == "" {
		return domain.ResourceStatus{}, apperrors.InvalidInput("resource key is required")
	}
	if total < 0 {
		return domain.ResourceStatus{}, apperrors.InvalidInput("total must not be negative")
	}

	var status domain.ResourceStatus
	err := lock.WithLock(ctx, s.locker, "stock-init:"+resourceKey, adminLockTTL, adminLockWait, func(ctx context.Context) error {
		if err := s.ledger.InitializeResource(ctx, resourceKey, total, total); err != nil {
			return err
		}
		var err error
		status, err = s.ledger.ResourceStatus(ctx, resourceKey)
		return err
	})
	if err != nil {
		return domain.ResourceStatus{}, apperrors.Wrap(err, "initialize resource")
	}

	s.logger.InfoContext(ctx, "resource stock initialized",
		slog.String("resource", resourceKey),
		slog.Int64("total", total),
	)
	return status, nil
}

// ResourceStatus reads a resource's live counters.
func (s *AdminService) ResourceStatus(ctx context.Context, resourceKey string) (domain.ResourceStatus, error) {
	status, err := s.ledger.ResourceStatus(ctx, resourceKey)
	if err != nil {
		if errors.Is(err, ledger.ErrResourceNotFound) {
			return domain.ResourceStatus{}, apperrors.NotFound("resource", resourceKey)
		}
		return domain.ResourceStatus{}, apperrors.Wrap(err, "read resource status")
	}
	return status, nil
}

// PendingWAL lists non-terminal write-ahead log entries for inspection.
func (s *AdminService) PendingWAL(ctx context.Context, limit int) ([]domain.WALEntry, error) {
	if limit <= 0 || limit > maxPendingWALPage {
		limit = maxPendingWALPage
	}
	entries, err := s.wal.FindPending(ctx, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, "list pending wal entries")
	}
	return entries, nil
}

// GatewayHealth reports each payment gateway's availability.
func (s *AdminService) GatewayHealth(ctx context.Context) map[string]bool {
	return s.gateways.HealthSummary(ctx)
}

// ExpireReservations releases overdue holds immediately instead of waiting
// for the background sweep. Returns the number released.
func (s *AdminService) ExpireReservations(ctx context.Context) (int, error) {
	released, err := s.ledger.ExpireDue(ctx, time.Now(), 1000)
	if err != nil {
		return 0, apperrors.Wrap(err, "expire reservations")
	}
	for i := range released {
		if err := s.events.ReservationExpired(ctx, &released[i]); err != nil {
			s.logger.WarnContext(ctx, "failed to publish reservation expired event",
				slog.String("reservation_id", released[i].ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if len(released) > 0 {
		s.logger.InfoContext(ctx, "expired reservations released",
			slog.Int("released", len(released)),
		)
	}
	return len(released), nil
}
