package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/flashsale/internal/domain"
)

func newSeededLedger(t *testing.T, total int64) *MemoryLedger {
	t.Helper()
	l := NewMemoryLedger()
	require.NoError(t, l.InitializeResource(context.Background(), "sale:widget", total, total))
	return l
}

func TestReserveConfirmAlgebra(t *testing.T) {
	ctx := context.Background()
	l := newSeededLedger(t, 100)

	out, err := l.Reserve(ctx, "sale:widget", 10, "resv-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.Equal(t, CodeSuccess, out.Code)
	assert.Equal(t, int64(90), out.Available)
	assert.Equal(t, int64(10), out.Reserved)
	assert.Equal(t, int64(100), out.Total)

	out, err = l.Confirm(ctx, "sale:widget", 10, "resv-1")
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.Equal(t, int64(90), out.Available)
	assert.Equal(t, int64(0), out.Reserved)
	assert.Equal(t, int64(90), out.Total)
}

func TestReserveCancelRestoresStock(t *testing.T) {
	ctx := context.Background()
	l := newSeededLedger(t, 50)

	_, err := l.Reserve(ctx, "sale:widget", 5, "resv-1", time.Minute)
	require.NoError(t, err)

	out, err := l.Cancel(ctx, "sale:widget", 5, "resv-1")
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.Equal(t, int64(50), out.Available)
	assert.Equal(t, int64(0), out.Reserved)
	assert.Equal(t, int64(50), out.Total)
}

func TestReserveIdempotentByReservationID(t *testing.T) {
	ctx := context.Background()
	l := newSeededLedger(t, 20)

	first, err := l.Reserve(ctx, "sale:widget", 3, "resv-1", time.Minute)
	require.NoError(t, err)
	require.True(t, first.Applied)

	replay, err := l.Reserve(ctx, "sale:widget", 3, "resv-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, replay.Applied, "replay must not change counters")
	assert.Equal(t, CodeAlreadyReserved, replay.Code)
	assert.True(t, replay.ReserveOK())
	assert.Equal(t, first.Available, replay.Available)
	assert.Equal(t, first.Reserved, replay.Reserved)
}

func TestConfirmIdempotent(t *testing.T) {
	ctx := context.Background()
	l := newSeededLedger(t, 20)

	_, err := l.Reserve(ctx, "sale:widget", 3, "resv-1", time.Minute)
	require.NoError(t, err)
	_, err = l.Confirm(ctx, "sale:widget", 3, "resv-1")
	require.NoError(t, err)

	replay, err := l.Confirm(ctx, "sale:widget", 3, "resv-1")
	require.NoError(t, err)
	assert.False(t, replay.Applied)
	assert.Equal(t, CodeAlreadyConfirmed, replay.Code)
	assert.True(t, replay.ConfirmOK())
	assert.Equal(t, int64(17), replay.Total)
}

func TestTransitionRejections(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		setup   func(l *MemoryLedger)
		op      func(l *MemoryLedger) (Outcome, error)
		want    Code
		applied bool
	}{
		{
			name:  "reserve with zero quantity",
			setup: func(l *MemoryLedger) {},
			op: func(l *MemoryLedger) (Outcome, error) {
				return l.Reserve(ctx, "sale:widget", 0, "r", time.Minute)
			},
			want: CodeInvalidQuantity,
		},
		{
			name:  "reserve with negative quantity",
			setup: func(l *MemoryLedger) {},
			op: func(l *MemoryLedger) (Outcome, error) {
				return l.Reserve(ctx, "sale:widget", -1, "r", time.Minute)
			},
			want: CodeInvalidQuantity,
		},
		{
			name:  "reserve over available",
			setup: func(l *MemoryLedger) {},
			op: func(l *MemoryLedger) (Outcome, error) {
				return l.Reserve(ctx, "sale:widget", 11, "r", time.Minute)
			},
			want: CodeInsufficientStock,
		},
		{
			name:  "reserve unknown resource",
			setup: func(l *MemoryLedger) {},
			op: func(l *MemoryLedger) (Outcome, error) {
				return l.Reserve(ctx, "sale:ghost", 1, "r", time.Minute)
			},
			want: CodeInsufficientStock,
		},
		{
			name:  "confirm unknown reservation",
			setup: func(l *MemoryLedger) {},
			op: func(l *MemoryLedger) (Outcome, error) {
				return l.Confirm(ctx, "sale:widget", 1, "ghost")
			},
			want: CodeReservationNotFound,
		},
		{
			name:  "cancel unknown reservation",
			setup: func(l *MemoryLedger) {},
			op: func(l *MemoryLedger) (Outcome, error) {
				return l.Cancel(ctx, "sale:widget", 1, "ghost")
			},
			want: CodeReservationNotFound,
		},
		{
			name: "cancel after confirm",
			setup: func(l *MemoryLedger) {
				_, _ = l.Reserve(ctx, "sale:widget", 1, "r", time.Minute)
				_, _ = l.Confirm(ctx, "sale:widget", 1, "r")
			},
			op: func(l *MemoryLedger) (Outcome, error) {
				return l.Cancel(ctx, "sale:widget", 1, "r")
			},
			want: CodeAlreadyConfirmed,
		},
		{
			name: "confirm after cancel",
			setup: func(l *MemoryLedger) {
				_, _ = l.Reserve(ctx, "sale:widget", 1, "r", time.Minute)
				_, _ = l.Cancel(ctx, "sale:widget", 1, "r")
			},
			op: func(l *MemoryLedger) (Outcome, error) {
				return l.Confirm(ctx, "sale:widget", 1, "r")
			},
			want: CodeAlreadyCancelled,
		},
		{
			name: "reserve after cancel",
			setup: func(l *MemoryLedger) {
				_, _ = l.Reserve(ctx, "sale:widget", 1, "r", time.Minute)
				_, _ = l.Cancel(ctx, "sale:widget", 1, "r")
			},
			op: func(l *MemoryLedger) (Outcome, error) {
				return l.Reserve(ctx, "sale:widget", 1, "r", time.Minute)
			},
			want: CodeAlreadyCancelled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newSeededLedger(t, 10)
			tt.setup(l)
			out, err := tt.op(l)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Code)
			assert.Equal(t, tt.applied, out.Applied)
		})
	}
}

func TestRepeatCancelIsNoOpSuccess(t *testing.T) {
	ctx := context.Background()
	l := newSeededLedger(t, 10)

	_, err := l.Reserve(ctx, "sale:widget", 2, "r", time.Minute)
	require.NoError(t, err)
	_, err = l.Cancel(ctx, "sale:widget", 2, "r")
	require.NoError(t, err)

	out, err := l.Cancel(ctx, "sale:widget", 2, "r")
	require.NoError(t, err)
	assert.False(t, out.Applied)
	assert.Equal(t, CodeAlreadyCancelled, out.Code)
	assert.True(t, out.CancelOK())
	assert.Equal(t, int64(10), out.Available, "repeat cancel must not double-restore")
}

func TestLastUnitConcurrentReserve(t *testing.T) {
	ctx := context.Background()
	l := newSeededLedger(t, 1)

	const callers = 50
	var wg sync.WaitGroup
	outcomes := make([]Outcome, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = l.Reserve(ctx, "sale:widget", 1, fmt.Sprintf("resv-%d", i), time.Minute)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	winners := 0
	for _, out := range outcomes {
		if out.Applied {
			winners++
		} else {
			assert.Equal(t, CodeInsufficientStock, out.Code)
		}
	}
	assert.Equal(t, 1, winners, "exactly one caller may win the last unit")

	status, err := l.ResourceStatus(ctx, "sale:widget")
	require.NoError(t, err)
	assert.Equal(t, int64(0), status.Available)
	assert.Equal(t, int64(1), status.Reserved)
}

func TestExpireDueRestoresStock(t *testing.T) {
	ctx := context.Background()
	l := newSeededLedger(t, 10)

	_, err := l.Reserve(ctx, "sale:widget", 4, "resv-old", -time.Second)
	require.NoError(t, err)
	_, err = l.Reserve(ctx, "sale:widget", 2, "resv-fresh", time.Hour)
	require.NoError(t, err)

	released, err := l.ExpireDue(ctx, time.Now(), 100)
	require.NoError(t, err)
	require.Len(t, released, 1)
	assert.Equal(t, "resv-old", released[0].ID)
	assert.Equal(t, domain.ReservationExpired, released[0].State)

	status, err := l.ResourceStatus(ctx, "sale:widget")
	require.NoError(t, err)
	assert.Equal(t, int64(8), status.Available)
	assert.Equal(t, int64(2), status.Reserved)

	resv, err := l.Reservation(ctx, "resv-old")
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationExpired, resv.State)

	// An expired reservation can no longer be confirmed.
	out, err := l.Confirm(ctx, "sale:widget", 4, "resv-old")
	require.NoError(t, err)
	assert.Equal(t, CodeAlreadyCancelled, out.Code)
}

func TestInitializeResourceValidation(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	assert.Error(t, l.InitializeResource(ctx, "k", -1, 0))
	assert.Error(t, l.InitializeResource(ctx, "k", 5, 6))
	assert.NoError(t, l.InitializeResource(ctx, "k", 5, 5))
}

func TestResourceStatusNotFound(t *testing.T) {
	l := NewMemoryLedger()
	_, err := l.ResourceStatus(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrResourceNotFound)
}
