package wal

import (
	"context"
	"log/slog"
	"time"

	"github.com/utafrali/flashsale/internal/repository"
)

const (
	defaultRetention  = 30 * 24 * time.Hour
	defaultRetryDelay = time.Minute
)

// Archiver moves terminal WAL entries past the retention window into the
// archive table.
type Archiver struct {
	repo       repository.WALRepository
	logger     *slog.Logger
	retention  time.Duration
	retryDelay time.Duration
}

// NewArchiver creates an archiver with the default 30-day retention.
func NewArchiver(repo repository.WALRepository, logger *slog.Logger) *Archiver {
	return &Archiver{
		repo:       repo,
		logger:     logger,
		retention:  defaultRetention,
		retryDelay: defaultRetryDelay,
	}
}

// WithRetention overrides the retention window.
func (a *Archiver) WithRetention(retention time.Duration) *Archiver {
	a.retention = retention
	return a
}

// RunOnce archives one batch, retrying once after a fixed delay on failure.
func (a *Archiver) RunOnce(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-a.retention)

	moved, err := a.repo.ArchiveBefore(ctx, cutoff)
	if err != nil {
		a.logger.WarnContext(ctx, "wal archive failed, retrying",
			slog.Duration("retry_delay", a.retryDelay),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(a.retryDelay):
		}
		moved, err = a.repo.ArchiveBefore(ctx, cutoff)
		if err != nil {
			return 0, err
		}
	}

	if moved > 0 {
		archivedTotal.Add(float64(moved))
		a.logger.InfoContext(ctx, "wal entries archived",
			slog.Int64("count", moved),
			slog.Time("cutoff", cutoff),
		)
	}
	return moved, nil
}

// Run archives on every tick until ctx is done.
func (a *Archiver) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.RunOnce(ctx); err != nil {
				a.logger.ErrorContext(ctx, "wal archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
