package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotAcquired means the lock is currently held by someone else.
	ErrNotAcquired = errors.New("lock: not acquired")
	// ErrLockTimeout means the wait deadline elapsed before the lock freed up.
	ErrLockTimeout = errors.New("lock: wait timeout")
)

const (
	keyPrefix    = "lock:"
	pollInterval = 50 * time.Millisecond
)

// Locker is a distributed mutual-exclusion primitive. Acquire returns an
// opaque token; only the holder of the token can release the lock.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (string, error)
	AcquireWait(ctx context.Context, key string, ttl, waitTimeout time.Duration) (string, error)
	Release(ctx context.Context, key, token string) (bool, error)
	ForceRelease(ctx context.Context, key string) error
	IsLocked(ctx context.Context, key string) (bool, error)
}

// releaseScript deletes the lock only when the stored token matches, so a
// holder whose TTL already expired cannot release a successor's lock.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Client is the subset of Redis commands the locker uses. *redis.Client
// satisfies it.
type Client interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisLocker implements Locker with SET NX PX plus a token-checked release.
type RedisLocker struct {
	client Client
}

// NewRedisLocker creates a locker over the given Redis client.
func NewRedisLocker(client Client) *RedisLocker {
	return &RedisLocker{client: client}
}

func lockKey(key string) string { return keyPrefix + key }

// Acquire attempts a single lock grab. Returns ErrNotAcquired when held.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.New().String()
	ok, err := l.client.SetNX(ctx, lockKey(key), token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return "", ErrNotAcquired
	}
	return token, nil
}

// AcquireWait polls for the lock until waitTimeout elapses or ctx is done.
func (l *RedisLocker) AcquireWait(ctx context.Context, key string, ttl, waitTimeout time.Duration) (string, error) {
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
			return "", fmt.Errorf("acquire lock %s: %w", key, ctx.Err())
		case <-deadline.C:
			return "", fmt.Errorf("acquire lock %s: %w", key, ErrLockTimeout)
		case <-ticker.C:
		}
	}
}

// Release frees the lock if token matches the holder's. Returns false when
// the token is stale or the lock already expired.
func (l *RedisLocker) Release(ctx context.Context, key, token string) (bool, error) {
	n, err := releaseScript.Run(ctx, l.client, []string{lockKey(key)}, token).Int()
	if err != nil {
		return false, fmt.Errorf("release lock %s: %w", key, err)
	}
	return n == 1, nil
}

// ForceRelease unconditionally deletes the lock. Operator escape hatch only.
func (l *RedisLocker) ForceRelease(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, lockKey(key)).Err(); err != nil {
		return fmt.Errorf("force release lock %s: %w", key, err)
	}
	return nil
}

// IsLocked reports whether the lock key currently exists.
func (l *RedisLocker) IsLocked(ctx context.Context, key string) (bool, error) {
	n, err := l.client.Exists(ctx, lockKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("check lock %s: %w", key, err)
	}
	return n > 0, nil
}

// WithLock acquires the lock, runs fn, and always releases afterwards. A
// release failure is reported only when fn itself succeeded.
func WithLock(ctx context.Context, l Locker, key string, ttl, waitTimeout time.Duration, fn func(ctx context.Context) error) error {
	token, err := l.AcquireWait(ctx, key, ttl, waitTimeout)
	if err != nil {
		return err
	}

	fnErr := fn(ctx)

	if _, relErr := l.Release(ctx, key, token); relErr != nil && fnErr == nil {
		return relErr
	}
	return fnErr
}
