package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/flashsale/internal/domain"
	"github.com/utafrali/flashsale/pkg/database"
	apperrors "github.com/utafrali/flashsale/pkg/errors"
)

func setupWALRepo(t *testing.T) (*WALRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	return NewWALRepository(mock), mock
}

var walTestColumns = []string{
	"log_id", "lsn", "transaction_id", "operation", "table_name",
	"before_data", "after_data", "status", "message", "related_log_id",
	"compressed", "created_at", "written_at", "updated_at", "completed_at",
}

func sampleWALEntry() domain.WALEntry {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return domain.WALEntry{
		LogID:         "wal-1",
		LSN:           42,
		TransactionID: "txn-1",
		Operation:     domain.WALInsert,
		TableName:     "orders",
		AfterData:     []byte(`{"id":"order-1"}`),
		Status:        domain.WALPending,
		CreatedAt:     at,
		WrittenAt:     at,
		UpdatedAt:     at,
	}
}

func walEntryRow(e domain.WALEntry) *pgxmock.Rows {
	var related *string
	if e.RelatedLogID != "" {
		related = &e.RelatedLogID
	}
	return pgxmock.NewRows(walTestColumns).AddRow(
		e.LogID, e.LSN, e.TransactionID, e.Operation, e.TableName,
		e.BeforeData, e.AfterData, e.Status, e.Message, related,
		e.Compressed, e.CreatedAt, e.WrittenAt, e.UpdatedAt, e.CompletedAt,
	)
}

func TestWALRepository_NextLSN(t *testing.T) {
	repo, mock := setupWALRepo(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT nextval").
		WillReturnRows(pgxmock.NewRows([]string{"nextval"}).AddRow(int64(101)))

	lsn, err := repo.NextLSN(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(101), lsn)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWALRepository_NextLSN_SequenceError(t *testing.T) {
	repo, mock := setupWALRepo(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT nextval").
		WillReturnError(errors.New("connection refused"))

	_, err := repo.NextLSN(context.Background())
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWALRepository_Insert(t *testing.T) {
	repo, mock := setupWALRepo(t)
	defer mock.Close()

	e := sampleWALEntry()
	mock.ExpectExec("INSERT INTO wal_logs").
		WithArgs(e.LogID, e.LSN, e.TransactionID, e.Operation, e.TableName,
			e.BeforeData, e.AfterData, e.Status, e.Message, (*string)(nil),
			e.Compressed, e.CreatedAt, e.WrittenAt, e.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Insert(context.Background(), &e))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWALRepository_UpdateStatus_TerminalSetsCompletedAt(t *testing.T) {
	repo, mock := setupWALRepo(t)
	defer mock.Close()

	mock.ExpectExec("UPDATE wal_logs").
		WithArgs(domain.WALCommitted, "done", true, "wal-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.UpdateStatus(context.Background(), "wal-1", domain.WALCommitted, "done"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWALRepository_UpdateStatus_NotFound(t *testing.T) {
	repo, mock := setupWALRepo(t)
	defer mock.Close()

	mock.ExpectExec("UPDATE wal_logs").
		WithArgs(domain.WALFailed, "", true, "ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.UpdateStatus(context.Background(), "ghost", domain.WALFailed, "")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWALRepository_GetByID_NotFound(t *testing.T) {
	repo, mock := setupWALRepo(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT .+ FROM wal_logs WHERE log_id").
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	entry, err := repo.GetByID(context.Background(), "ghost")
	assert.Nil(t, entry)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWALRepository_FindPending_OrderedByLSN(t *testing.T) {
	repo, mock := setupWALRepo(t)
	defer mock.Close()

	a := sampleWALEntry()
	b := sampleWALEntry()
	b.LogID = "wal-2"
	b.LSN = 43
	b.Status = domain.WALInProgress

	rows := walEntryRow(a)
	rows.AddRow(b.LogID, b.LSN, b.TransactionID, b.Operation, b.TableName,
		b.BeforeData, b.AfterData, b.Status, b.Message, (*string)(nil),
		b.Compressed, b.CreatedAt, b.WrittenAt, b.UpdatedAt, b.CompletedAt)

	mock.ExpectQuery("SELECT .+ FROM wal_logs WHERE status IN").
		WithArgs(100).
		WillReturnRows(rows)

	entries, err := repo.FindPending(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(42), entries[0].LSN)
	assert.Equal(t, int64(43), entries[1].LSN)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWALRepository_FindByTransaction_Empty(t *testing.T) {
	repo, mock := setupWALRepo(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT .+ FROM wal_logs WHERE transaction_id").
		WithArgs("txn-none").
		WillReturnRows(pgxmock.NewRows(walTestColumns))

	entries, err := repo.FindByTransaction(context.Background(), "txn-none")
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NotNil(t, entries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWALRepository_ArchiveBefore(t *testing.T) {
	repo, mock := setupWALRepo(t)
	defer mock.Close()

	cutoff := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO wal_log_archive").
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("INSERT", 7))
	mock.ExpectExec("DELETE FROM wal_logs").
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 7))
	mock.ExpectCommit()

	moved, err := repo.ArchiveBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(7), moved)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWALRepository_ArchiveBefore_RollbackOnError(t *testing.T) {
	repo, mock := setupWALRepo(t)
	defer mock.Close()

	cutoff := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO wal_log_archive").
		WithArgs(cutoff).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := repo.ArchiveBefore(context.Background(), cutoff)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
