package event

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/flashsale/internal/domain"
	"github.com/utafrali/flashsale/pkg/kafka"
	"github.com/utafrali/flashsale/pkg/logger"
)

type recordingWriter struct {
	topics []string
	events []*kafka.Event
	err    error
}

func (w *recordingWriter) Publish(_ context.Context, topic string, event *kafka.Event) error {
	if w.err != nil {
		return w.err
	}
	w.topics = append(w.topics, topic)
	w.events = append(w.events, event)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProducerPublishesTypedEvents(t *testing.T) {
	w := &recordingWriter{}
	p := NewProducer(w, testLogger())
	ctx := context.Background()

	require.NoError(t, p.ReservationCreated(ctx, &domain.Reservation{ID: "resv-1", Quantity: 2}))
	require.NoError(t, p.PaymentProcessed(ctx, &domain.Payment{ID: "pay-1"}))
	require.NoError(t, p.OrderCompleted(ctx, &domain.Order{ID: "ord-1"}))

	require.Len(t, w.events, 3)
	assert.Equal(t, []string{TopicReservations, TopicPayments, TopicOrders}, w.topics)
	assert.Equal(t, TypeReservationCreated, w.events[0].EventType)
	assert.Equal(t, "resv-1", w.events[0].AggregateID)
	assert.Equal(t, "payment", w.events[1].AggregateType)

	var resv domain.Reservation
	require.NoError(t, w.events[0].UnmarshalData(&resv))
	assert.Equal(t, int64(2), resv.Quantity)
}

func TestProducerPropagatesCorrelationID(t *testing.T) {
	w := &recordingWriter{}
	p := NewProducer(w, testLogger())

	ctx := logger.WithCorrelationID(context.Background(), "corr-42")
	require.NoError(t, p.ReservationExpired(ctx, &domain.Reservation{ID: "resv-1"}))

	require.Len(t, w.events, 1)
	assert.Equal(t, "corr-42", w.events[0].CorrelationID)
}

func TestProducerDeadLetterPayload(t *testing.T) {
	w := &recordingWriter{}
	p := NewProducer(w, testLogger())

	cmd := &domain.WriteCommand{CommandID: "cmd-1", Type: domain.CommandCreateOrder, RetryCount: 3}
	require.NoError(t, p.DeadLetteredCommand(context.Background(), cmd, errors.New("deadlock")))

	require.Len(t, w.events, 1)
	assert.Equal(t, TopicDeadLetters, w.topics[0])

	var payload struct {
		Command *domain.WriteCommand `json:"command"`
		Error   string               `json:"error"`
	}
	require.NoError(t, w.events[0].UnmarshalData(&payload))
	assert.Equal(t, "cmd-1", payload.Command.CommandID)
	assert.Equal(t, "deadlock", payload.Error)
}

func TestProducerDeadLetterPublishFailure(t *testing.T) {
	w := &recordingWriter{err: errors.New("brokers unreachable")}
	p := NewProducer(w, testLogger())

	cmd := &domain.WriteCommand{CommandID: "cmd-1"}
	assert.Error(t, p.DeadLetteredCommand(context.Background(), cmd, errors.New("deadlock")))
}
