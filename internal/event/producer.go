// Package event publishes typed domain events over Kafka. Publishing is
// best-effort from the caller's point of view: the purchase path never fails
// because an event could not be delivered.
package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utafrali/flashsale/internal/domain"
	"github.com/utafrali/flashsale/pkg/kafka"
	"github.com/utafrali/flashsale/pkg/logger"
)

const source = "flashsale"

// Topics per aggregate. Events for one aggregate share a topic so partition
// ordering by aggregate ID holds.
const (
	TopicReservations = "flashsale.reservations"
	TopicPayments     = "flashsale.payments"
	TopicOrders       = "flashsale.orders"
	TopicDeadLetters  = "flashsale.write-commands.dlq"
)

// Event types carried in the envelope.
const (
	TypeReservationCreated   = "RESERVATION_CREATED"
	TypeReservationCancelled = "RESERVATION_CANCELLED"
	TypeReservationExpired   = "RESERVATION_EXPIRED"
	TypePaymentProcessed     = "PAYMENT_PROCESSED"
	TypePaymentFailed        = "PAYMENT_FAILED"
	TypeOrderCompleted       = "ORDER_COMPLETED"
	TypeWriteCommandDead     = "WRITE_COMMAND_DEAD_LETTERED"
)

// Publisher emits domain events. Implementations must be safe for concurrent
// use.
type Publisher interface {
	ReservationCreated(ctx context.Context, resv *domain.Reservation) error
	ReservationCancelled(ctx context.Context, resv *domain.Reservation) error
	ReservationExpired(ctx context.Context, resv *domain.Reservation) error
	PaymentProcessed(ctx context.Context, payment *domain.Payment) error
	PaymentFailed(ctx context.Context, payment *domain.Payment) error
	OrderCompleted(ctx context.Context, order *domain.Order) error
	DeadLetteredCommand(ctx context.Context, cmd *domain.WriteCommand, cause error) error
}

// eventWriter is the slice of pkg/kafka.Producer this package needs.
type eventWriter interface {
	Publish(ctx context.Context, topic string, event *kafka.Event) error
}

// Producer publishes domain events through a Kafka producer.
type Producer struct {
	writer eventWriter
	logger *slog.Logger
}

// NewProducer wraps a Kafka producer as a domain event publisher.
func NewProducer(writer eventWriter, log *slog.Logger) *Producer {
	return &Producer{writer: writer, logger: log}
}

func (p *Producer) publish(ctx context.Context, topic, eventType, aggregateID, aggregateType string, data any) error {
	evt, err := kafka.NewEvent(eventType, aggregateID, aggregateType, source, data)
	if err != nil {
		return fmt.Errorf("build %s event: %w", eventType, err)
	}
	if cid := logger.CorrelationIDFromContext(ctx); cid != "" {
		evt.WithCorrelationID(cid)
	}
	return p.writer.Publish(ctx, topic, evt)
}

func (p *Producer) ReservationCreated(ctx context.Context, resv *domain.Reservation) error {
	return p.publish(ctx, TopicReservations, TypeReservationCreated, resv.ID, "reservation", resv)
}

func (p *Producer) ReservationCancelled(ctx context.Context, resv *domain.Reservation) error {
	return p.publish(ctx, TopicReservations, TypeReservationCancelled, resv.ID, "reservation", resv)
}

func (p *Producer) ReservationExpired(ctx context.Context, resv *domain.Reservation) error {
	return p.publish(ctx, TopicReservations, TypeReservationExpired, resv.ID, "reservation", resv)
}

func (p *Producer) PaymentProcessed(ctx context.Context, payment *domain.Payment) error {
	return p.publish(ctx, TopicPayments, TypePaymentProcessed, payment.ID, "payment", payment)
}

func (p *Producer) PaymentFailed(ctx context.Context, payment *domain.Payment) error {
	return p.publish(ctx, TopicPayments, TypePaymentFailed, payment.ID, "payment", payment)
}

func (p *Producer) OrderCompleted(ctx context.Context, order *domain.Order) error {
	return p.publish(ctx, TopicOrders, TypeOrderCompleted, order.ID, "order", order)
}

// DeadLetteredCommand publishes an exhausted write command so it can be
// replayed or inspected offline.
func (p *Producer) DeadLetteredCommand(ctx context.Context, cmd *domain.WriteCommand, cause error) error {
	payload := struct {
		Command *domain.WriteCommand `json:"command"`
		Error   string               `json:"error"`
	}{Command: cmd, Error: cause.Error()}

	if err := p.publish(ctx, TopicDeadLetters, TypeWriteCommandDead, cmd.CommandID, "write_command", payload); err != nil {
		// The command is already lost to the write path; the log line is the
		// last trace of it.
		p.logger.ErrorContext(ctx, "failed to publish dead-lettered command",
			slog.String("command_id", cmd.CommandID),
			slog.String("type", string(cmd.Type)),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

// Nop is a Publisher that drops every event. Used when Kafka is disabled.
type Nop struct{}

func (Nop) ReservationCreated(context.Context, *domain.Reservation) error   { return nil }
func (Nop) ReservationCancelled(context.Context, *domain.Reservation) error { return nil }
func (Nop) ReservationExpired(context.Context, *domain.Reservation) error   { return nil }
func (Nop) PaymentProcessed(context.Context, *domain.Payment) error         { return nil }
func (Nop) PaymentFailed(context.Context, *domain.Payment) error            { return nil }
func (Nop) OrderCompleted(context.Context, *domain.Order) error             { return nil }
func (Nop) DeadLetteredCommand(context.Context, *domain.WriteCommand, error) error {
	return nil
}
