package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/flashsale/internal/domain"
	"github.com/utafrali/flashsale/pkg/database"
	apperrors "github.com/utafrali/flashsale/pkg/errors"
)

// ReservationRepository implements repository.ReservationRepository using
// PostgreSQL. Rows are an audit copy; the ledger owns the live counters.
type ReservationRepository struct {
	pool database.DBTX
}

// NewReservationRepository creates a PostgreSQL-backed reservation repository.
func NewReservationRepository(pool database.DBTX) *ReservationRepository {
	return &ReservationRepository{pool: pool}
}

// Upsert writes the current state of a reservation.
func (r *ReservationRepository) Upsert(ctx context.Context, reservation *domain.Reservation) error {
	query := `
		INSERT INTO reservations (id, resource_key, user_id, quantity, state, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			expires_at = EXCLUDED.expires_at`

	_, err := r.pool.Exec(ctx, query,
		reservation.ID,
		reservation.ResourceKey,
		reservation.UserID,
		reservation.Quantity,
		reservation.State,
		reservation.ExpiresAt,
		reservation.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert reservation: %w", err)
	}
	return nil
}

// GetByID retrieves a reservation audit row.
func (r *ReservationRepository) GetByID(ctx context.Context, id string) (*domain.Reservation, error) {
	query := `
		SELECT id, resource_key, user_id, quantity, state, expires_at, created_at
		FROM reservations
		WHERE id = $1`

	var res domain.Reservation
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&res.ID,
		&res.ResourceKey,
		&res.UserID,
		&res.Quantity,
		&res.State,
		&res.ExpiresAt,
		&res.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("get reservation by id: %w", err)
	}
	return &res, nil
}
