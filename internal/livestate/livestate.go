// Package livestate holds the transient cluster-shared state in Redis:
// triple locks, triple → container mappings, and segment dedup entries.
//
// Every write is a single-key atomic operation (SET NX EX, SETEX, DEL), so
// correctness never depends on multi-key transactions or in-process state,
// and any replica may serve any request. Per-key linearizability from Redis is
// the only ordering assumption.
//
// Key layout:
//
//	lock:<platform>:<native_id>:<token>   triple lock, TTL-bounded
//	map:<platform>:<native_id>:<token>    live container id, no TTL
//	seg:<meeting_id>:<start>:<end>        segment dedup + partial cache
package livestate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meetscribe/meetscribe/internal/apperr"
	"github.com/meetscribe/meetscribe/internal/platform"
)

const (
	lockPrefix = "lock:"
	mapPrefix  = "map:"
	segPrefix  = "seg:"

	// Dedup windows per the ingestion contract: completed segments only need
	// to absorb short retry bursts, partials live long enough to be replaced
	// by their completed form.
	CompletedSegmentTTL = 5 * time.Minute
	PartialSegmentTTL   = 30 * time.Minute
)

// Cmdable is the subset of the go-redis client the store uses. Tests
// substitute a fake; production passes a *redis.Client.
type Cmdable interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// Store wraps the shared Redis instance. Safe for concurrent use.
type Store struct {
	rdb     Cmdable
	lockTTL time.Duration
}

// New creates a Store. lockTTL bounds how long a triple lock survives a
// crashed orchestrator; it must exceed the slowest plausible bot launch.
func New(rdb Cmdable, lockTTL time.Duration) *Store {
	return &Store{rdb: rdb, lockTTL: lockTTL}
}

// Dial connects a go-redis client to addr and verifies it with a ping.
func Dial(ctx context.Context, addr string, lockTTL time.Duration) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("livestate: ping %s: %w: %w", addr, err, apperr.ErrStoreUnavailable)
	}
	return New(rdb, lockTTL), nil
}

// LockKey returns the Redis key guarding the triple.
func LockKey(t platform.Triple) string { return lockPrefix + t.String() }

// MapKey returns the Redis key recording the triple's live container.
func MapKey(t platform.Triple) string { return mapPrefix + t.String() }

// SegmentKey returns the dedup key for a transcript interval. Times are
// fixed to millisecond precision so that numerically equal floats always
// produce the same key.
func SegmentKey(meetingID int64, start, end float64) string {
	return fmt.Sprintf("%s%d:%.3f:%.3f", segPrefix, meetingID, start, end)
}

// TryLock attempts to acquire the triple lock with create-if-absent
// semantics. It reports false when another holder already owns the lock.
func (s *Store) TryLock(ctx context.Context, t platform.Triple) (bool, error) {
	acquired, err := s.rdb.SetNX(ctx, LockKey(t), time.Now().UTC().Format(time.RFC3339), s.lockTTL).Result()
	if err != nil {
		return false, storeErr("try lock", err)
	}
	return acquired, nil
}

// Release deletes the triple's lock and mapping. Releasing a triple that
// holds neither is a success: the operation is idempotent by design of the
// stop path.
func (s *Store) Release(ctx context.Context, t platform.Triple) error {
	if err := s.rdb.Del(ctx, LockKey(t), MapKey(t)).Err(); err != nil {
		return storeErr("release", err)
	}
	return nil
}

// PutMapping records the live container for the triple. Only called after a
// successful container start; the mapping carries no TTL and is removed by
// [Store.Release].
func (s *Store) PutMapping(ctx context.Context, t platform.Triple, containerID string) error {
	if err := s.rdb.Set(ctx, MapKey(t), containerID, 0).Err(); err != nil {
		return storeErr("put mapping", err)
	}
	return nil
}

// GetMapping returns the live container id for the triple, or
// [apperr.ErrNotFound] when no bot is mapped.
func (s *Store) GetMapping(ctx context.Context, t platform.Triple) (string, error) {
	id, err := s.rdb.Get(ctx, MapKey(t)).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("livestate: get mapping: %w", apperr.ErrNotFound)
	}
	if err != nil {
		return "", storeErr("get mapping", err)
	}
	return id, nil
}

// SegmentSeen reports whether a dedup entry exists for the interval, and
// returns the cached payload when one does.
func (s *Store) SegmentSeen(ctx context.Context, meetingID int64, start, end float64) (payload string, seen bool, err error) {
	payload, err = s.rdb.Get(ctx, SegmentKey(meetingID, start, end)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storeErr("segment seen", err)
	}
	return payload, true, nil
}

// MarkSegment writes the dedup entry for the interval. completed selects the
// short retry-absorbing TTL; partials get the longer window so a later
// completed frame can still find and supersede them.
func (s *Store) MarkSegment(ctx context.Context, meetingID int64, start, end float64, payload string, completed bool) error {
	ttl := PartialSegmentTTL
	if completed {
		ttl = CompletedSegmentTTL
	}
	if err := s.rdb.Set(ctx, SegmentKey(meetingID, start, end), payload, ttl).Err(); err != nil {
		return storeErr("mark segment", err)
	}
	return nil
}

// Ping checks Redis reachability. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("livestate: ping: %w", err)
	}
	return nil
}

// storeErr wraps a Redis failure as a transient backing-store condition so
// callers can match on [apperr.ErrStoreUnavailable].
func storeErr(op string, err error) error {
	return fmt.Errorf("livestate: %s: %w: %w", op, err, apperr.ErrStoreUnavailable)
}
