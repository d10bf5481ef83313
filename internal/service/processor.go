package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/utafrali/flashsale/internal/domain"
	"github.com/utafrali/flashsale/internal/repository"
)

// WriteProcessor executes buffered write commands against the repositories.
// It is the write buffer's CommandProcessor.
type WriteProcessor struct {
	orders       repository.OrderRepository
	payments     repository.PaymentRepository
	reservations repository.ReservationRepository
	logger       *slog.Logger
}

// NewWriteProcessor wires the processor to its repositories.
func NewWriteProcessor(
	orders repository.OrderRepository,
	payments repository.PaymentRepository,
	reservations repository.ReservationRepository,
	logger *slog.Logger,
) *WriteProcessor {
	return &WriteProcessor{
		orders:       orders,
		payments:     payments,
		reservations: reservations,
		logger:       logger,
	}
}

// Process dispatches one command to its repository. Inserts are idempotent at
// the repository level, so replaying a command after a retry is safe.
func (p *WriteProcessor) Process(ctx context.Context, cmd *domain.WriteCommand) error {
	switch cmd.Type {
	case domain.CommandCreateOrder:
		var order domain.Order
		if err := json.Unmarshal(cmd.Payload, &order); err != nil {
			return fmt.Errorf("decode order payload: %w", err)
		}
		return p.orders.Create(ctx, &order)

	case domain.CommandCreatePayment:
		var payment domain.Payment
		if err := json.Unmarshal(cmd.Payload, &payment); err != nil {
			return fmt.Errorf("decode payment payload: %w", err)
		}
		return p.payments.Create(ctx, &payment)

	case domain.CommandSaveReservation:
		var resv domain.Reservation
		if err := json.Unmarshal(cmd.Payload, &resv); err != nil {
			return fmt.Errorf("decode reservation payload: %w", err)
		}
		return p.reservations.Upsert(ctx, &resv)

	default:
		// Unknown types are permanent failures; retrying cannot help.
		p.logger.ErrorContext(ctx, "unknown write command type",
			slog.String("command_id", cmd.CommandID),
			slog.String("type", string(cmd.Type)),
		)
		return fmt.Errorf("unknown command type %q", cmd.Type)
	}
}
