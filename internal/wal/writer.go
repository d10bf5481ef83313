package wal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/flashsale/internal/domain"
	"github.com/utafrali/flashsale/internal/repository"
	apperrors "github.com/utafrali/flashsale/pkg/errors"
)

const defaultAppendTimeout = 3 * time.Second

// Writer appends intent records to the write-ahead log. Appends run on their
// own detached context and timeout: the WAL write must survive even when the
// caller's request context is cancelled mid-flight, and a caller must never
// proceed past a failed append.
type Writer struct {
	repo          repository.WALRepository
	processor     *Processor
	logger        *slog.Logger
	appendTimeout time.Duration
}

// NewWriter creates a WAL writer. processor may be nil to disable async
// post-processing.
func NewWriter(repo repository.WALRepository, processor *Processor, logger *slog.Logger) *Writer {
	return &Writer{
		repo:          repo,
		processor:     processor,
		logger:        logger,
		appendTimeout: defaultAppendTimeout,
	}
}

// fallbackLSN builds a process-monotonic LSN from the wall clock when the
// database sequence is unreachable. Millis are scaled so sequence values and
// fallback values stay far apart, and the nano remainder disambiguates
// same-millisecond calls within this process.
func fallbackLSN(now time.Time) int64 {
	return now.UnixMilli()*1_000_000 + int64(now.Nanosecond())%1_000_000
}

// Append writes a new entry with status PENDING and returns it. The returned
// error wraps ErrDurability when the log write itself failed; callers must
// abort their business step in that case.
func (w *Writer) Append(ctx context.Context, op domain.WALOperation, tableName, transactionID string, before, after []byte) (*domain.WALEntry, error) {
	return w.append(ctx, op, tableName, transactionID, "", before, after)
}

// AppendLinked is Append for a follow-up phase of an earlier entry. The new
// entry carries relatedLogID so the phases of one transaction can be
// reassembled from the log.
func (w *Writer) AppendLinked(ctx context.Context, op domain.WALOperation, tableName, transactionID, relatedLogID string, before, after []byte) (*domain.WALEntry, error) {
	return w.append(ctx, op, tableName, transactionID, relatedLogID, before, after)
}

func (w *Writer) append(ctx context.Context, op domain.WALOperation, tableName, transactionID, relatedLogID string, before, after []byte) (*domain.WALEntry, error) {
	// Detach from the caller's cancellation but keep its values
	// (correlation ID, trace context).
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.appendTimeout)
	defer cancel()

	lsn, err := w.repo.NextLSN(writeCtx)
	if err != nil {
		lsn = fallbackLSN(time.Now())
		lsnFallbackTotal.Inc()
		w.logger.WarnContext(ctx, "wal lsn sequence unavailable, using wall-clock fallback",
			slog.Int64("lsn", lsn),
			slog.String("error", err.Error()),
		)
	}

	now := time.Now().UTC()
	entry := &domain.WALEntry{
		LogID:         uuid.New().String(),
		LSN:           lsn,
		TransactionID: transactionID,
		RelatedLogID:  relatedLogID,
		Operation:     op,
		TableName:     tableName,
		BeforeData:    before,
		AfterData:     after,
		Status:        domain.WALPending,
		CreatedAt:     now,
		WrittenAt:     now,
		UpdatedAt:     now,
	}

	if err := w.repo.Insert(writeCtx, entry); err != nil {
		appendFailuresTotal.Inc()
		return nil, apperrors.Durability(fmt.Errorf("append wal entry: %w", err))
	}

	entriesTotal.WithLabelValues(string(op), string(domain.WALPending)).Inc()

	if w.processor != nil {
		w.processor.Submit(entry)
	}

	return entry, nil
}

// UpdateStatus moves an entry to a new status. Unlike Append this is not a
// durability barrier; callers decide how to treat failures.
func (w *Writer) UpdateStatus(ctx context.Context, logID string, status domain.WALStatus, message string) error {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.appendTimeout)
	defer cancel()

	if err := w.repo.UpdateStatus(writeCtx, logID, status, message); err != nil {
		return fmt.Errorf("update wal entry %s: %w", logID, err)
	}
	entriesTotal.WithLabelValues("update", string(status)).Inc()
	return nil
}

// FindPending lists non-terminal entries ordered by LSN.
func (w *Writer) FindPending(ctx context.Context, limit int) ([]domain.WALEntry, error) {
	return w.repo.FindPending(ctx, limit)
}

// FindByTransaction lists all entries of a transaction ordered by LSN.
func (w *Writer) FindByTransaction(ctx context.Context, transactionID string) ([]domain.WALEntry, error) {
	return w.repo.FindByTransaction(ctx, transactionID)
}
