package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/flashsale/internal/domain"
)

type mockOrderRepo struct {
	mock.Mock
}

func (m *mockOrderRepo) Create(ctx context.Context, order *domain.Order) error {
	return m.Called(ctx, order).Error(0)
}

func (m *mockOrderRepo) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	args := m.Called(ctx, id)
	if o := args.Get(0); o != nil {
		return o.(*domain.Order), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockOrderRepo) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	return m.Called(ctx, id, status).Error(0)
}

type mockPaymentRepo struct {
	mock.Mock
}

func (m *mockPaymentRepo) Create(ctx context.Context, payment *domain.Payment) error {
	return m.Called(ctx, payment).Error(0)
}

func (m *mockPaymentRepo) GetByOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	args := m.Called(ctx, orderID)
	if p := args.Get(0); p != nil {
		return p.(*domain.Payment), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockPaymentRepo) UpdateStatus(ctx context.Context, id string, status domain.PaymentStatus, failureReason string) error {
	return m.Called(ctx, id, status, failureReason).Error(0)
}

type mockReservationRepo struct {
	mock.Mock
}

func (m *mockReservationRepo) Upsert(ctx context.Context, reservation *domain.Reservation) error {
	return m.Called(ctx, reservation).Error(0)
}

func (m *mockReservationRepo) GetByID(ctx context.Context, id string) (*domain.Reservation, error) {
	args := m.Called(ctx, id)
	if r := args.Get(0); r != nil {
		return r.(*domain.Reservation), args.Error(1)
	}
	return nil, args.Error(1)
}

func mustPayload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestWriteProcessorDispatch(t *testing.T) {
	orders := new(mockOrderRepo)
	payments := new(mockPaymentRepo)
	reservations := new(mockReservationRepo)
	p := NewWriteProcessor(orders, payments, reservations, testLogger())
	ctx := context.Background()

	orders.On("Create", mock.Anything, mock.MatchedBy(func(o *domain.Order) bool {
		return o.ID == "ord-1"
	})).Return(nil)
	payments.On("Create", mock.Anything, mock.MatchedBy(func(p *domain.Payment) bool {
		return p.ID == "pay-1"
	})).Return(nil)
	reservations.On("Upsert", mock.Anything, mock.MatchedBy(func(r *domain.Reservation) bool {
		return r.ID == "resv-1"
	})).Return(nil)

	require.NoError(t, p.Process(ctx, &domain.WriteCommand{
		Type:    domain.CommandCreateOrder,
		Payload: mustPayload(t, domain.Order{ID: "ord-1"}),
	}))
	require.NoError(t, p.Process(ctx, &domain.WriteCommand{
		Type:    domain.CommandCreatePayment,
		Payload: mustPayload(t, domain.Payment{ID: "pay-1"}),
	}))
	require.NoError(t, p.Process(ctx, &domain.WriteCommand{
		Type:    domain.CommandSaveReservation,
		Payload: mustPayload(t, domain.Reservation{ID: "resv-1"}),
	}))

	orders.AssertExpectations(t)
	payments.AssertExpectations(t)
	reservations.AssertExpectations(t)
}

func TestWriteProcessorRejectsUnknownType(t *testing.T) {
	p := NewWriteProcessor(new(mockOrderRepo), new(mockPaymentRepo), new(mockReservationRepo), testLogger())

	err := p.Process(context.Background(), &domain.WriteCommand{
		CommandID: "cmd-1",
		Type:      domain.CommandType("DROP_TABLES"),
	})
	assert.Error(t, err)
}

func TestWriteProcessorRejectsMalformedPayload(t *testing.T) {
	p := NewWriteProcessor(new(mockOrderRepo), new(mockPaymentRepo), new(mockReservationRepo), testLogger())

	err := p.Process(context.Background(), &domain.WriteCommand{
		Type:    domain.CommandCreateOrder,
		Payload: json.RawMessage(`{not json`),
	})
	assert.Error(t, err)
}
