package wal

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/utafrali/flashsale/internal/domain"
	"github.com/utafrali/flashsale/internal/ledger"
	"github.com/utafrali/flashsale/internal/repository"
)

const (
	defaultStuckAge      = 10 * time.Minute
	defaultRecoveryBatch = 200
)

// Recoverer sweeps stuck WAL entries. A PENDING purchase intent means the
// crash happened before the gateway call, so its reservation is cancelled and
// the entry marked RECOVERED. An IN_PROGRESS intent may have captured money;
// it is marked FAILED for manual review and the reservation is left alone.
type Recoverer struct {
	repo     repository.WALRepository
	ledger   ledger.Ledger
	logger   *slog.Logger
	stuckAge time.Duration
	batch    int
}

// NewRecoverer creates a recovery sweep over the WAL.
func NewRecoverer(repo repository.WALRepository, l ledger.Ledger, logger *slog.Logger) *Recoverer {
	return &Recoverer{
		repo:     repo,
		ledger:   l,
		logger:   logger,
		stuckAge: defaultStuckAge,
		batch:    defaultRecoveryBatch,
	}
}

// WithStuckAge overrides how old an entry must be before it is swept.
func (r *Recoverer) WithStuckAge(age time.Duration) *Recoverer {
	r.stuckAge = age
	return r
}

// RunOnce performs a single sweep and returns the number of entries resolved.
func (r *Recoverer) RunOnce(ctx context.Context) (int, error) {
	entries, err := r.repo.FindStuck(ctx, time.Now().Add(-r.stuckAge), r.batch)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, entry := range entries {
		if err := r.recoverEntry(ctx, &entry); err != nil {
			r.logger.ErrorContext(ctx, "wal recovery failed for entry",
				slog.String("log_id", entry.LogID),
				slog.String("error", err.Error()),
			)
			continue
		}
		resolved++
	}
	return resolved, nil
}

func (r *Recoverer) recoverEntry(ctx context.Context, entry *domain.WALEntry) error {
	switch entry.Status {
	case domain.WALPending:
		r.releaseReservation(ctx, entry)
		recoveredTotal.WithLabelValues("recovered").Inc()
		return r.repo.UpdateStatus(ctx, entry.LogID, domain.WALRecovered, "recovered: intent never progressed, reservation released")

	case domain.WALInProgress:
		// The gateway call may have succeeded. Do not undo anything
		// automatically; flag for review.
		recoveredTotal.WithLabelValues("manual_review").Inc()
		r.logger.ErrorContext(ctx, "wal entry stuck in progress, payment state unknown",
			slog.String("log_id", entry.LogID),
			slog.String("transaction_id", entry.TransactionID),
		)
		return r.repo.UpdateStatus(ctx, entry.LogID, domain.WALFailed, "failed: stuck in progress, requires manual review")
	}
	return nil
}

// releaseReservation cancels the reservation named by a purchase intent.
// Best effort: a reservation already expired or cancelled is fine.
func (r *Recoverer) releaseReservation(ctx context.Context, entry *domain.WALEntry) {
	if entry.TableName != domain.IntentTableName || len(entry.AfterData) == 0 {
		return
	}

	var intent domain.PurchaseIntent
	if err := json.Unmarshal(entry.AfterData, &intent); err != nil {
		r.logger.WarnContext(ctx, "wal recovery cannot decode purchase intent",
			slog.String("log_id", entry.LogID),
			slog.String("error", err.Error()),
		)
		return
	}

	out, err := r.ledger.Cancel(ctx, intent.ResourceKey, intent.Quantity, intent.ReservationID)
	if err != nil {
		r.logger.WarnContext(ctx, "wal recovery could not cancel reservation",
			slog.String("reservation_id", intent.ReservationID),
			slog.String("error", err.Error()),
		)
		return
	}
	if out.Applied {
		r.logger.InfoContext(ctx, "wal recovery released stale reservation",
			slog.String("reservation_id", intent.ReservationID),
			slog.String("resource_key", intent.ResourceKey),
			slog.Int64("quantity", intent.Quantity),
		)
	}
}

// Run performs a sweep immediately, then on every tick until ctx is done.
func (r *Recoverer) Run(ctx context.Context, interval time.Duration) {
	sweep := func() {
		n, err := r.RunOnce(ctx)
		if err != nil {
			r.logger.ErrorContext(ctx, "wal recovery sweep failed", slog.String("error", err.Error()))
			return
		}
		if n > 0 {
			r.logger.InfoContext(ctx, "wal recovery sweep resolved entries", slog.Int("count", n))
		}
	}

	sweep()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
