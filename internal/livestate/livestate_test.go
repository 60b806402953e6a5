package livestate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meetscribe/meetscribe/internal/apperr"
	"github.com/meetscribe/meetscribe/internal/platform"
)

// fakeRedis is an in-memory Cmdable. It records TTLs rather than expiring
// keys, so tests can assert on the chosen windows directly.
type fakeRedis struct {
	values map[string]string
	ttls   map[string]time.Duration
	err    error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if _, exists := f.values[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	f.values[key] = toString(value)
	f.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.values[key] = toString(value)
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	var n int64
	for _, k := range keys {
		if _, ok := f.values[k]; ok {
			delete(f.values, k)
			delete(f.ttls, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Exists(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := f.values[k]; ok {
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", f.err)
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func mustTriple(t *testing.T, nativeID, token string) platform.Triple {
	t.Helper()
	tr, err := platform.NewTriple(platform.GoogleMeet, nativeID, token)
	if err != nil {
		t.Fatal(err)
	}
	return tr
}

func TestTryLockIsExclusivePerTriple(t *testing.T) {
	t.Parallel()

	rdb := newFakeRedis()
	s := New(rdb, 15*time.Minute)
	ctx := context.Background()
	triple := mustTriple(t, "abc-defg-hij", "tok-a")

	acquired, err := s.TryLock(ctx, triple)
	if err != nil || !acquired {
		t.Fatalf("first TryLock = (%v, %v), want (true, nil)", acquired, err)
	}
	acquired, err = s.TryLock(ctx, triple)
	if err != nil || acquired {
		t.Fatalf("second TryLock = (%v, %v), want (false, nil)", acquired, err)
	}
	if ttl := rdb.ttls["lock:google_meet:abc-defg-hij:tok-a"]; ttl != 15*time.Minute {
		t.Errorf("lock TTL = %v, want 15m", ttl)
	}

	// Same meeting, different tenant token: independent lock.
	other := mustTriple(t, "abc-defg-hij", "tok-b")
	acquired, err = s.TryLock(ctx, other)
	if err != nil || !acquired {
		t.Errorf("other tenant TryLock = (%v, %v), want (true, nil)", acquired, err)
	}
}

func TestReleaseClearsLockAndMapping(t *testing.T) {
	t.Parallel()

	rdb := newFakeRedis()
	s := New(rdb, time.Minute)
	ctx := context.Background()
	triple := mustTriple(t, "abc-defg-hij", "tok")

	if _, err := s.TryLock(ctx, triple); err != nil {
		t.Fatal(err)
	}
	if err := s.PutMapping(ctx, triple, "container-1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Release(ctx, triple); err != nil {
		t.Fatal(err)
	}

	if _, err := s.GetMapping(ctx, triple); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("mapping after release: err = %v, want ErrNotFound", err)
	}
	if acquired, _ := s.TryLock(ctx, triple); !acquired {
		t.Error("lock must be free after release")
	}

	// Releasing again is a no-op, not an error.
	if err := s.Release(ctx, mustTriple(t, "xyz-abcd-efg", "tok")); err != nil {
		t.Errorf("release of unheld triple: %v", err)
	}
}

func TestGetMapping(t *testing.T) {
	t.Parallel()

	s := New(newFakeRedis(), time.Minute)
	ctx := context.Background()
	triple := mustTriple(t, "abc-defg-hij", "tok")

	if err := s.PutMapping(ctx, triple, "container-42"); err != nil {
		t.Fatal(err)
	}
	id, err := s.GetMapping(ctx, triple)
	if err != nil {
		t.Fatal(err)
	}
	if id != "container-42" {
		t.Errorf("container id = %q, want container-42", id)
	}
}

func TestSegmentKeyFixedPrecision(t *testing.T) {
	t.Parallel()

	got := SegmentKey(7, 1, 1.2)
	if got != "seg:7:1.000:1.200" {
		t.Errorf("SegmentKey = %q, want seg:7:1.000:1.200", got)
	}
	// Numerically equal floats share a key regardless of how they were parsed.
	if SegmentKey(7, 1.0000, 1.2000) != got {
		t.Error("equal intervals must map to the same key")
	}
}

func TestMarkSegmentTTLPerKind(t *testing.T) {
	t.Parallel()

	rdb := newFakeRedis()
	s := New(rdb, time.Minute)
	ctx := context.Background()

	if err := s.MarkSegment(ctx, 1, 0, 1.5, `{"text":"hi"}`, true); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkSegment(ctx, 1, 1.5, 3, `{"text":"par"}`, false); err != nil {
		t.Fatal(err)
	}

	if ttl := rdb.ttls[SegmentKey(1, 0, 1.5)]; ttl != CompletedSegmentTTL {
		t.Errorf("completed TTL = %v, want %v", ttl, CompletedSegmentTTL)
	}
	if ttl := rdb.ttls[SegmentKey(1, 1.5, 3)]; ttl != PartialSegmentTTL {
		t.Errorf("partial TTL = %v, want %v", ttl, PartialSegmentTTL)
	}

	payload, seen, err := s.SegmentSeen(ctx, 1, 0, 1.5)
	if err != nil || !seen {
		t.Fatalf("SegmentSeen = (%v, %v), want seen", seen, err)
	}
	if payload != `{"text":"hi"}` {
		t.Errorf("payload = %q", payload)
	}

	_, seen, err = s.SegmentSeen(ctx, 1, 99, 100)
	if err != nil || seen {
		t.Errorf("unknown interval: seen = %v, err = %v", seen, err)
	}
}

func TestRedisOutageWrapsStoreUnavailable(t *testing.T) {
	t.Parallel()

	rdb := newFakeRedis()
	rdb.err = errors.New("connection refused")
	s := New(rdb, time.Minute)
	ctx := context.Background()
	triple := mustTriple(t, "abc-defg-hij", "tok")

	if _, err := s.TryLock(ctx, triple); !errors.Is(err, apperr.ErrStoreUnavailable) {
		t.Errorf("TryLock error = %v, want ErrStoreUnavailable", err)
	}
	if err := s.Release(ctx, triple); !errors.Is(err, apperr.ErrStoreUnavailable) {
		t.Errorf("Release error = %v, want ErrStoreUnavailable", err)
	}
	if _, _, err := s.SegmentSeen(ctx, 1, 0, 1); !errors.Is(err, apperr.ErrStoreUnavailable) {
		t.Errorf("SegmentSeen error = %v, want ErrStoreUnavailable", err)
	}
}
