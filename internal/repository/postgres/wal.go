package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/flashsale/internal/domain"
	"github.com/utafrali/flashsale/pkg/database"
	apperrors "github.com/utafrali/flashsale/pkg/errors"
)

// WALRepository implements repository.WALRepository using PostgreSQL.
type WALRepository struct {
	pool database.DBTX
}

// NewWALRepository creates a PostgreSQL-backed WAL repository.
func NewWALRepository(pool database.DBTX) *WALRepository {
	return &WALRepository{pool: pool}
}

const walColumns = `log_id, lsn, transaction_id, operation, table_name, before_data, after_data,
	status, message, related_log_id, compressed, created_at, written_at, updated_at, completed_at`

// NextLSN returns the next value of the wal_lsn_seq sequence.
func (r *WALRepository) NextLSN(ctx context.Context) (int64, error) {
	var lsn int64
	if err := r.pool.QueryRow(ctx, "SELECT nextval('wal_lsn_seq')").Scan(&lsn); err != nil {
		return 0, fmt.Errorf("next lsn: %w", err)
	}
	return lsn, nil
}

// Insert appends a new WAL entry.
func (r *WALRepository) Insert(ctx context.Context, entry *domain.WALEntry) error {
	query := `
		INSERT INTO wal_logs (log_id, lsn, transaction_id, operation, table_name, before_data, after_data,
			status, message, related_log_id, compressed, created_at, written_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.pool.Exec(ctx, query,
		entry.LogID,
		entry.LSN,
		entry.TransactionID,
		entry.Operation,
		entry.TableName,
		entry.BeforeData,
		entry.AfterData,
		entry.Status,
		entry.Message,
		nullable(entry.RelatedLogID),
		entry.Compressed,
		entry.CreatedAt,
		entry.WrittenAt,
		entry.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert wal entry: %w", err)
	}
	return nil
}

// UpdateStatus moves an entry to a new status; terminal statuses set
// completed_at.
func (r *WALRepository) UpdateStatus(ctx context.Context, logID string, status domain.WALStatus, message string) error {
	query := `
		UPDATE wal_logs
		SET status = $1,
			message = $2,
			updated_at = NOW(),
			completed_at = CASE WHEN $3 THEN NOW() ELSE completed_at END
		WHERE log_id = $4`

	ct, err := r.pool.Exec(ctx, query, status, message, status.IsTerminal(), logID)
	if err != nil {
		return fmt.Errorf("update wal status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("wal entry", logID)
	}
	return nil
}

func scanWALEntry(row pgx.Row) (*domain.WALEntry, error) {
	var e domain.WALEntry
	var relatedLogID *string
	err := row.Scan(
		&e.LogID,
		&e.LSN,
		&e.TransactionID,
		&e.Operation,
		&e.TableName,
		&e.BeforeData,
		&e.AfterData,
		&e.Status,
		&e.Message,
		&relatedLogID,
		&e.Compressed,
		&e.CreatedAt,
		&e.WrittenAt,
		&e.UpdatedAt,
		&e.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if relatedLogID != nil {
		e.RelatedLogID = *relatedLogID
	}
	return &e, nil
}

// GetByID retrieves a single entry.
func (r *WALRepository) GetByID(ctx context.Context, logID string) (*domain.WALEntry, error) {
	query := `SELECT ` + walColumns + ` FROM wal_logs WHERE log_id = $1`

	entry, err := scanWALEntry(r.pool.QueryRow(ctx, query, logID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("get wal entry by id: %w", err)
	}
	return entry, nil
}

func (r *WALRepository) queryEntries(ctx context.Context, query string, args ...any) ([]domain.WALEntry, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.WALEntry
	for rows.Next() {
		entry, err := scanWALEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan wal row: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wal rows: %w", err)
	}
	if entries == nil {
		entries = []domain.WALEntry{}
	}
	return entries, nil
}

// FindPending returns non-terminal entries ordered by LSN.
func (r *WALRepository) FindPending(ctx context.Context, limit int) ([]domain.WALEntry, error) {
	query := `
		SELECT ` + walColumns + `
		FROM wal_logs
		WHERE status IN ('PENDING', 'IN_PROGRESS')
		ORDER BY lsn ASC
		LIMIT $1`

	entries, err := r.queryEntries(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("find pending wal entries: %w", err)
	}
	return entries, nil
}

// FindByTransaction returns all entries of a transaction ordered by LSN.
func (r *WALRepository) FindByTransaction(ctx context.Context, transactionID string) ([]domain.WALEntry, error) {
	query := `
		SELECT ` + walColumns + `
		FROM wal_logs
		WHERE transaction_id = $1
		ORDER BY lsn ASC`

	entries, err := r.queryEntries(ctx, query, transactionID)
	if err != nil {
		return nil, fmt.Errorf("find wal entries by transaction: %w", err)
	}
	return entries, nil
}

// FindStuck returns non-terminal entries created before the cutoff.
func (r *WALRepository) FindStuck(ctx context.Context, olderThan time.Time, limit int) ([]domain.WALEntry, error) {
	query := `
		SELECT ` + walColumns + `
		FROM wal_logs
		WHERE status IN ('PENDING', 'IN_PROGRESS') AND created_at < $1
		ORDER BY lsn ASC
		LIMIT $2`

	entries, err := r.queryEntries(ctx, query, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("find stuck wal entries: %w", err)
	}
	return entries, nil
}

// InsertBackup writes a secondary copy of an entry.
func (r *WALRepository) InsertBackup(ctx context.Context, entry *domain.WALEntry) error {
	query := `
		INSERT INTO wal_log_backups (log_id, lsn, transaction_id, operation, table_name, before_data, after_data,
			status, message, related_log_id, compressed, created_at, written_at, updated_at, backed_up_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW())
		ON CONFLICT (log_id) DO NOTHING`

	_, err := r.pool.Exec(ctx, query,
		entry.LogID,
		entry.LSN,
		entry.TransactionID,
		entry.Operation,
		entry.TableName,
		entry.BeforeData,
		entry.AfterData,
		entry.Status,
		entry.Message,
		nullable(entry.RelatedLogID),
		entry.Compressed,
		entry.CreatedAt,
		entry.WrittenAt,
		entry.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert wal backup: %w", err)
	}
	return nil
}

// ArchiveBefore moves terminal entries created before the cutoff into
// wal_log_archive and deletes the originals, atomically.
func (r *WALRepository) ArchiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin archive tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	insertQuery := `
		INSERT INTO wal_log_archive (log_id, lsn, transaction_id, operation, table_name, before_data, after_data,
			status, message, related_log_id, compressed, created_at, written_at, updated_at, completed_at, archived_at)
		SELECT log_id, lsn, transaction_id, operation, table_name, before_data, after_data,
			status, message, related_log_id, compressed, created_at, written_at, updated_at, completed_at, NOW()
		FROM wal_logs
		WHERE status IN ('COMMITTED', 'FAILED', 'RECOVERED') AND created_at < $1
		ON CONFLICT (log_id) DO NOTHING`

	if _, err := tx.Exec(ctx, insertQuery, cutoff); err != nil {
		return 0, fmt.Errorf("copy wal entries to archive: %w", err)
	}

	deleteQuery := `
		DELETE FROM wal_logs
		WHERE status IN ('COMMITTED', 'FAILED', 'RECOVERED') AND created_at < $1`

	ct, err := tx.Exec(ctx, deleteQuery, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete archived wal entries: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit archive tx: %w", err)
	}
	return ct.RowsAffected(), nil
}

// nullable converts empty strings to NULL for optional foreign keys.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
