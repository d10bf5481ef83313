package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryLock struct {
	token     string
	expiresAt time.Time
}

// MemoryLocker is an in-process Locker with the same token and TTL semantics
// as RedisLocker. It backs tests and local development.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]memoryLock
}

// NewMemoryLocker creates an empty in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]memoryLock)}
}

// Acquire attempts a single lock grab. Returns ErrNotAcquired when held.
func (l *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if held, ok := l.locks[key]; ok && held.expiresAt.After(now) {
		return "", ErrNotAcquired
	}

	token := uuid.New().String()
	l.locks[key] = memoryLock{token: token, expiresAt: now.Add(ttl)}
	return token, nil
}

// AcquireWait polls for the lock until waitTimeout elapses or ctx is done.
func (l *MemoryLocker) AcquireWait(ctx context.Context, key string, ttl, waitTimeout time.Duration) (string, error) {
	deadline := time.NewTimer(waitTimeout)
	defer deadline.Stop()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		token, err := l.Acquire(ctx, key, ttl)
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, ErrNotAcquired) {
			return "", err
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			return "", ErrLockTimeout
		case <-ticker.C:
		}
	}
}

// Release frees the lock if token matches the holder's.
func (l *MemoryLocker) Release(ctx context.Context, key, token string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	held, ok := l.locks[key]
	if !ok || held.token != token || !held.expiresAt.After(time.Now()) {
		return false, nil
	}
	delete(l.locks, key)
	return true, nil
}

// ForceRelease unconditionally deletes the lock.
func (l *MemoryLocker) ForceRelease(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locks, key)
	return nil
}

// IsLocked reports whether an unexpired lock exists for key.
func (l *MemoryLocker) IsLocked(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	held, ok := l.locks[key]
	return ok && held.expiresAt.After(time.Now()), nil
}
