package postgres

import (
	"context"
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

func setupOrderRepo(t *testing.T) (*OrderRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	return NewOrderRepository(mock), mock
}

func sampleOrder() domain.Order {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return domain.Order{
		ID:            "order-1",
		UserID:        "user-1",
		ResourceKey:   "sale:widget",
		ReservationID: "resv-1",
		Quantity:      2,
		Amount:        1998,
		Currency:      "USD",
		Status:        domain.OrderCompleted,
		CreatedAt:     at,
		UpdatedAt:     at,
	}
}

func TestOrderRepository_Create(t *testing.T) {
	repo, mock := setupOrderRepo(t)
	defer mock.Close()

	o := sampleOrder()
	mock.ExpectExec("INSERT INTO orders").
		WithArgs(o.ID, o.UserID, o.ResourceKey, o.ReservationID, o.Quantity,
			o.Amount, o.Currency, o.Status, o.CreatedAt, o.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Create(context.Background(), &o))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_GetByID(t *testing.T) {
	repo, mock := setupOrderRepo(t)
	defer mock.Close()

	o := sampleOrder()
	mock.ExpectQuery("SELECT .+ FROM orders WHERE id").
		WithArgs(o.ID).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "user_id", "resource_key", "reservation_id", "quantity",
			"amount", "currency", "status", "created_at", "updated_at",
		}).AddRow(o.ID, o.UserID, o.ResourceKey, o.ReservationID, o.Quantity,
			o.Amount, o.Currency, o.Status, o.CreatedAt, o.UpdatedAt))

	got, err := repo.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, o, *got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_GetByID_NotFound(t *testing.T) {
	repo, mock := setupOrderRepo(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT .+ FROM orders WHERE id").
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	got, err := repo.GetByID(context.Background(), "ghost")
	assert.Nil(t, got)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_UpdateStatus_NotFound(t *testing.T) {
	repo, mock := setupOrderRepo(t)
	defer mock.Close()

	mock.ExpectExec("UPDATE orders").
		WithArgs(domain.OrderFailed, "ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.UpdateStatus(context.Background(), "ghost", domain.OrderFailed)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
