package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireAndRelease(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()

	token, err := l.Acquire(ctx, "stock-init", time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	locked, err := l.IsLocked(ctx, "stock-init")
	require.NoError(t, err)
	assert.True(t, locked)

	released, err := l.Release(ctx, "stock-init", token)
	require.NoError(t, err)
	assert.True(t, released)

	locked, err = l.IsLocked(ctx, "stock-init")
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestAcquireHeldLock(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()

	_, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, ErrNotAcquired)
}

func TestStaleTokenReleaseIsNoOp(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()

	_, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	released, err := l.Release(ctx, "k", "not-the-token")
	require.NoError(t, err)
	assert.False(t, released)

	locked, err := l.IsLocked(ctx, "k")
	require.NoError(t, err)
	assert.True(t, locked, "foreign token must not free the lock")
}

func TestExpiredLockCanBeReacquired(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()

	old, err := l.Acquire(ctx, "k", time.Millisecond)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	fresh, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.NotEqual(t, old, fresh)

	// The original holder's token is now stale.
	released, err := l.Release(ctx, "k", old)
	require.NoError(t, err)
	assert.False(t, released)
}

func TestAcquireWaitTimeout(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()

	_, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	start := time.Now()
	_, err = l.AcquireWait(ctx, "k", time.Minute, 120*time.Millisecond)
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestAcquireWaitSucceedsAfterRelease(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()

	token, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	go func() {
		time.Sleep(60 * time.Millisecond)
		_, _ = l.Release(ctx, "k", token)
	}()

	got, err := l.AcquireWait(ctx, "k", time.Minute, time.Second)
	require.NoError(t, err)
	assert.NotEmpty(t, got)
}

func TestAcquireWaitContextCancel(t *testing.T) {
	l := NewMemoryLocker()
	ctx, cancel := context.WithCancel(context.Background())

	_, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err = l.AcquireWait(ctx, "k", time.Minute, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestForceRelease(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()

	_, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	require.NoError(t, l.ForceRelease(ctx, "k"))

	locked, err := l.IsLocked(ctx, "k")
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestWithLockMutualExclusion(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()

	var active, maxActive int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := WithLock(ctx, l, "critical", time.Minute, 5*time.Second, func(ctx context.Context) error {
				mu.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive, "critical section must never be concurrent")
}

func TestWithLockReleasesOnError(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()
	sentinel := errors.New("boom")

	err := WithLock(ctx, l, "k", time.Minute, time.Second, func(ctx context.Context) error {
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	locked, err := l.IsLocked(ctx, "k")
	require.NoError(t, err)
	assert.False(t, locked, "lock must be released even when fn fails")
}
