package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/utafrali/flashsale/internal/domain"
)

const (
	stockKeyPrefix = "stock:"
	resvKeyPrefix  = "resv:"
	expiryIndexKey = "resv:index"

	// Terminal reservation records are kept around briefly so idempotent
	// replays can still be answered.
	terminalRetention = time.Hour
)

// Client is the subset of Redis commands the ledger uses. *redis.Client
// satisfies it.
type Client interface {
	redis.Scripter
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	ZRangeByScore(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd
	ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
}

// RedisLedger implements Ledger over Redis Lua scripts. Each resource is one
// hash, so every mutation is a single atomic script evaluation.
type RedisLedger struct {
	client Client
}

// NewRedisLedger creates a ledger over the given Redis client.
func NewRedisLedger(client Client) *RedisLedger {
	return &RedisLedger{client: client}
}

func stockKey(resourceKey string) string { return stockKeyPrefix + resourceKey }
func resvKey(reservationID string) string {
	return resvKeyPrefix + reservationID
}

// indexEntry is the expiry-index member payload. JSON encoding keeps
// caller-supplied reservation IDs and resource keys from colliding with any
// delimiter.
type indexEntry struct {
	ReservationID string `json:"id"`
	ResourceKey   string `json:"res"`
	Qty           int64  `json:"qty"`
}

// indexMember encodes everything the expiry sweep needs to release a hold
// whose reservation hash may already be gone.
func indexMember(reservationID, resourceKey string, qty int64) string {
	b, _ := json.Marshal(indexEntry{
		ReservationID: reservationID,
		ResourceKey:   resourceKey,
		Qty:           qty,
	})
	return string(b)
}

func parseIndexMember(member string) (reservationID, resourceKey string, qty int64, err error) {
	var e indexEntry
	if err := json.Unmarshal([]byte(member), &e); err != nil {
		return "", "", 0, fmt.Errorf("malformed expiry index member %q: %w", member, err)
	}
	if e.ReservationID == "" || e.Qty <= 0 {
		return "", "", 0, fmt.Errorf("malformed expiry index member %q", member)
	}
	return e.ReservationID, e.ResourceKey, e.Qty, nil
}

func parseOutcome(vals []interface{}) (Outcome, error) {
	if len(vals) != 5 {
		return Outcome{}, fmt.Errorf("unexpected script reply length %d", len(vals))
	}
	applied, ok := vals[0].(int64)
	if !ok {
		return Outcome{}, fmt.Errorf("unexpected applied flag type %T", vals[0])
	}
	code, ok := vals[1].(string)
	if !ok {
		return Outcome{}, fmt.Errorf("unexpected code type %T", vals[1])
	}
	nums := make([]int64, 3)
	for i, v := range vals[2:] {
		n, ok := v.(int64)
		if !ok {
			return Outcome{}, fmt.Errorf("unexpected counter type %T", v)
		}
		nums[i] = n
	}
	return Outcome{
		Applied:   applied == 1,
		Code:      Code(code),
		Available: nums[0],
		Reserved:  nums[1],
		Total:     nums[2],
	}, nil
}

func (l *RedisLedger) run(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) (Outcome, error) {
	vals, err := script.Run(ctx, l.client, keys, args...).Slice()
	if err != nil {
		return Outcome{}, fmt.Errorf("ledger script: %w", err)
	}
	return parseOutcome(vals)
}

// Reserve places a hold on qty units of the resource.
func (l *RedisLedger) Reserve(ctx context.Context, resourceKey string, qty int64, reservationID string, ttl time.Duration) (Outcome, error) {
	return l.run(ctx, reserveScript,
		[]string{stockKey(resourceKey), resvKey(reservationID), expiryIndexKey},
		qty,
		ttl.Milliseconds(),
		time.Now().UnixMilli(),
		indexMember(reservationID, resourceKey, qty),
		resourceKey,
	)
}

// Confirm consumes a hold.
func (l *RedisLedger) Confirm(ctx context.Context, resourceKey string, qty int64, reservationID string) (Outcome, error) {
	return l.run(ctx, confirmScript,
		[]string{stockKey(resourceKey), resvKey(reservationID), expiryIndexKey},
		qty,
		indexMember(reservationID, resourceKey, qty),
		terminalRetention.Milliseconds(),
	)
}

// Cancel releases a hold.
func (l *RedisLedger) Cancel(ctx context.Context, resourceKey string, qty int64, reservationID string) (Outcome, error) {
	return l.run(ctx, cancelScript,
		[]string{stockKey(resourceKey), resvKey(reservationID), expiryIndexKey},
		qty,
		indexMember(reservationID, resourceKey, qty),
		terminalRetention.Milliseconds(),
	)
}

// InitializeResource seeds the counters for a resource.
func (l *RedisLedger) InitializeResource(ctx context.Context, resourceKey string, total, available int64) error {
	if total < 0 || available < 0 || available > total {
		return fmt.Errorf("invalid counters total=%d available=%d", total, available)
	}
	err := l.client.HSet(ctx, stockKey(resourceKey),
		"total", total,
		"available", available,
		"reserved", 0,
	).Err()
	if err != nil {
		return fmt.Errorf("initialize resource %s: %w", resourceKey, err)
	}
	return nil
}

// ResourceStatus reads the current counters for a resource.
func (l *RedisLedger) ResourceStatus(ctx context.Context, resourceKey string) (domain.ResourceStatus, error) {
	fields, err := l.client.HGetAll(ctx, stockKey(resourceKey)).Result()
	if err != nil {
		return domain.ResourceStatus{}, fmt.Errorf("read resource %s: %w", resourceKey, err)
	}
	if len(fields) == 0 {
		return domain.ResourceStatus{}, ErrResourceNotFound
	}

	status := domain.ResourceStatus{Key: resourceKey}
	for field, dst := range map[string]*int64{
		"total":     &status.Total,
		"available": &status.Available,
		"reserved":  &status.Reserved,
	} {
		n, err := strconv.ParseInt(fields[field], 10, 64)
		if err != nil {
			return domain.ResourceStatus{}, fmt.Errorf("parse %s for resource %s: %w", field, resourceKey, err)
		}
		*dst = n
	}
	return status, nil
}

// Reservation reads a reservation record.
func (l *RedisLedger) Reservation(ctx context.Context, reservationID string) (domain.Reservation, error) {
	fields, err := l.client.HGetAll(ctx, resvKey(reservationID)).Result()
	if err != nil {
		return domain.Reservation{}, fmt.Errorf("read reservation %s: %w", reservationID, err)
	}
	if len(fields) == 0 {
		return domain.Reservation{}, ErrReservationNotFound
	}

	qty, _ := strconv.ParseInt(fields["qty"], 10, 64)
	expiresMs, _ := strconv.ParseInt(fields["expires_at"], 10, 64)
	createdMs, _ := strconv.ParseInt(fields["created_at"], 10, 64)

	return domain.Reservation{
		ID:          reservationID,
		ResourceKey: fields["resource"],
		Quantity:    qty,
		State:       domain.ReservationState(fields["status"]),
		ExpiresAt:   time.UnixMilli(expiresMs).UTC(),
		CreatedAt:   time.UnixMilli(createdMs).UTC(),
	}, nil
}

// ExpireDue scans the expiry index for overdue holds and releases them.
func (l *RedisLedger) ExpireDue(ctx context.Context, now time.Time, limit int64) ([]domain.Reservation, error) {
	members, err := l.client.ZRangeByScore(ctx, expiryIndexKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("scan expiry index: %w", err)
	}

	var released []domain.Reservation
	for _, member := range members {
		reservationID, resourceKey, qty, err := parseIndexMember(member)
		if err != nil {
			// A member this code did not write. Drop it so one bad entry
			// cannot wedge every subsequent sweep; the reservation hash TTL
			// still bounds the hold itself.
			indexDroppedTotal.Inc()
			_ = l.client.ZRem(ctx, expiryIndexKey, member).Err()
			continue
		}
		n, err := expireScript.Run(ctx, l.client,
			[]string{stockKey(resourceKey), resvKey(reservationID), expiryIndexKey},
			member, qty,
		).Int()
		if err != nil {
			return released, fmt.Errorf("expire reservation %s: %w", reservationID, err)
		}
		if n > 0 {
			released = append(released, domain.Reservation{
				ID:          reservationID,
				ResourceKey: resourceKey,
				Quantity:    qty,
				State:       domain.ReservationExpired,
			})
		}
	}
	return released, nil
}
