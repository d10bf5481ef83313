package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/flashsale/internal/buffer"
	"github.com/utafrali/flashsale/internal/domain"
	"github.com/utafrali/flashsale/internal/ledger"
	"github.com/utafrali/flashsale/internal/lock"
	apperrors "github.com/utafrali/flashsale/pkg/errors"
)

type fakeBuffer struct {
	status  buffer.Status
	flushed int
}

func (f *fakeBuffer) Status() buffer.Status     { return f.status }
func (f *fakeBuffer) Flush(context.Context) int { return f.flushed }

type fakeWALReader struct {
	entries   []domain.WALEntry
	lastLimit int
}

func (f *fakeWALReader) FindPending(_ context.Context, limit int) ([]domain.WALEntry, error) {
	f.lastLimit = limit
	return f.entries, nil
}

type fakeGatewayHealth map[string]bool

func (f fakeGatewayHealth) HealthSummary(context.Context) map[string]bool { return f }

func newAdminFixture(t *testing.T) (*AdminService, *ledger.MemoryLedger, lock.Locker, *fakeWALReader) {
	t.Helper()
	led := ledger.NewMemoryLedger()
	locker := lock.NewMemoryLocker()
	wal := &fakeWALReader{}
	svc := NewAdminService(
		&fakeBuffer{status: buffer.Status{Health: buffer.HealthHealthy}, flushed: 7},
		locker,
		led,
		wal,
		fakeGatewayHealth{"mock": true},
		nil,
		testLogger(),
	)
	return svc, led, locker, wal
}

func TestAdminInitializeResource(t *testing.T) {
	svc, led, locker, _ := newAdminFixture(t)
	ctx := context.Background()

	status, err := svc.InitializeResource(ctx, "sale:widget", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), status.Total)
	assert.Equal(t, int64(100), status.Available)

	got, err := led.ResourceStatus(ctx, "sale:widget")
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.Available)

	// The init lock must not leak.
	held, err := locker.IsLocked(ctx, "stock-init:sale:widget")
	require.NoError(t, err)
	assert.False(t, held)
}

func TestAdminInitializeResourceValidation(t *testing.T) {
	svc, _, _, _ := newAdminFixture(t)

	_, err := svc.InitializeResource(context.Background(), "", 10)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = svc.InitializeResource(context.Background(), "sale:widget", -1)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestAdminForceUnlock(t *testing.T) {
	svc, _, locker, _ := newAdminFixture(t)
	ctx := context.Background()

	_, err := locker.Acquire(ctx, "wedged", time.Minute)
	require.NoError(t, err)

	require.NoError(t, svc.ForceUnlock(ctx, "wedged"))

	held, err := locker.IsLocked(ctx, "wedged")
	require.NoError(t, err)
	assert.False(t, held)

	assert.ErrorIs(t, svc.ForceUnlock(ctx, ""), apperrors.ErrInvalidInput)
}

func TestAdminPendingWALClampsLimit(t *testing.T) {
	svc, _, _, wal := newAdminFixture(t)

	_, err := svc.PendingWAL(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, maxPendingWALPage, wal.lastLimit)

	_, err = svc.PendingWAL(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, 50, wal.lastLimit)
}

func TestAdminResourceStatusNotFound(t *testing.T) {
	svc, _, _, _ := newAdminFixture(t)

	_, err := svc.ResourceStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestAdminExpireReservations(t *testing.T) {
	led := ledger.NewMemoryLedger()
	events := &recordingEvents{}
	svc := NewAdminService(
		&fakeBuffer{}, lock.NewMemoryLocker(), led, &fakeWALReader{},
		fakeGatewayHealth{}, events, testLogger(),
	)
	ctx := context.Background()

	require.NoError(t, led.InitializeResource(ctx, "sale:widget", 5, 5))
	_, err := led.Reserve(ctx, "sale:widget", 2, "resv-1", time.Millisecond)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	released, err := svc.ExpireReservations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, released)
	assert.Equal(t, []string{"reservation_expired"}, events.recorded())

	status, err := led.ResourceStatus(ctx, "sale:widget")
	require.NoError(t, err)
	assert.Equal(t, int64(5), status.Available)
}

func TestAdminBufferSurface(t *testing.T) {
	svc, _, _, _ := newAdminFixture(t)

	assert.Equal(t, buffer.HealthHealthy, svc.BufferStatus().Health)
	assert.Equal(t, 7, svc.FlushBuffer(context.Background()))
	assert.Equal(t, map[string]bool{"mock": true}, svc.GatewayHealth(context.Background()))
}
