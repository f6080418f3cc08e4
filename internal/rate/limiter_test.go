package rate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis, *fakeClock) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	return New(rdb, Config{Now: clock.Now}), mr, clock
}

func TestCheckCountsDownRemaining(t *testing.T) {
	limiter, _, clock := newTestLimiter(t)
	ctx := context.Background()
	key := limiter.Key("ip:10.0.0.1", "/api/v1/auth/login")

	for i := 1; i <= 5; i++ {
		res, err := limiter.Check(ctx, key, time.Minute, 5)
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("check %d: expected allowed", i)
		}
		if res.Remaining != 5-i {
			t.Fatalf("check %d: expected remaining %d, got %d", i, 5-i, res.Remaining)
		}
		clock.Advance(200 * time.Millisecond)
	}

	res, err := limiter.Check(ctx, key, time.Minute, 5)
	if err != nil {
		t.Fatalf("sixth check: %v", err)
	}
	if res.Allowed {
		t.Fatal("expected sixth request to be rejected")
	}
	if res.Remaining != 0 || res.Count != 6 {
		t.Fatalf("unexpected rejection result: %+v", res)
	}
	if res.ResetAfter <= 0 || res.ResetAfter > time.Minute {
		t.Fatalf("expected reset within window, got %v", res.ResetAfter)
	}
}

func TestCheckEvictsEntriesOutsideWindow(t *testing.T) {
	limiter, _, clock := newTestLimiter(t)
	ctx := context.Background()
	key := limiter.Key("ip:10.0.0.2", "/x")

	for i := 0; i < 3; i++ {
		if _, err := limiter.Check(ctx, key, time.Minute, 3); err != nil {
			t.Fatalf("check: %v", err)
		}
	}
	res, _ := limiter.Check(ctx, key, time.Minute, 3)
	if res.Allowed {
		t.Fatal("expected budget exhausted")
	}

	clock.Advance(61 * time.Second)

	res, err := limiter.Check(ctx, key, time.Minute, 3)
	if err != nil {
		t.Fatalf("check after window: %v", err)
	}
	if !res.Allowed || res.Count != 1 {
		t.Fatalf("expected fresh window after eviction, got %+v", res)
	}
}

func TestCheckSameMillisecondMarkersDoNotCollapse(t *testing.T) {
	limiter, mr, _ := newTestLimiter(t)
	ctx := context.Background()
	key := limiter.Key("ip:10.0.0.3", "/x")

	for i := 0; i < 4; i++ {
		if _, err := limiter.Check(ctx, key, time.Minute, 10); err != nil {
			t.Fatalf("check: %v", err)
		}
	}

	members, err := mr.ZMembers(key)
	if err != nil {
		t.Fatalf("ZMembers: %v", err)
	}
	if len(members) != 4 {
		t.Fatalf("expected 4 distinct markers at one timestamp, got %d", len(members))
	}
	if ttl := mr.TTL(key); ttl != time.Minute {
		t.Fatalf("expected key ttl refreshed to window, got %v", ttl)
	}
}

func TestCheckConcurrentAdmitsExactlyLimit(t *testing.T) {
	limiter, _, _ := newTestLimiter(t)
	ctx := context.Background()
	key := limiter.Key("u:alice", "/api/v1/analyze")

	const (
		limit   = 20
		callers = 64
	)

	var (
		admitted atomic.Int64
		rejected atomic.Int64
		wg       sync.WaitGroup
		start    = make(chan struct{})
	)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := limiter.Check(ctx, key, time.Minute, limit)
			if err != nil {
				t.Errorf("check: %v", err)
				return
			}
			if res.Allowed {
				admitted.Add(1)
			} else {
				rejected.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if admitted.Load() != limit {
		t.Fatalf("expected exactly %d admissions, got %d", limit, admitted.Load())
	}
	if rejected.Load() != callers-limit {
		t.Fatalf("expected %d rejections, got %d", callers-limit, rejected.Load())
	}
}

func TestCheckRejectsInvalidParameters(t *testing.T) {
	limiter, _, _ := newTestLimiter(t)

	if _, err := limiter.Check(context.Background(), "k", 0, 5); !errors.Is(err, ErrInvalidLimit) {
		t.Fatalf("expected ErrInvalidLimit for zero window, got %v", err)
	}
	if _, err := limiter.Check(context.Background(), "k", time.Minute, 0); !errors.Is(err, ErrInvalidLimit) {
		t.Fatalf("expected ErrInvalidLimit for zero limit, got %v", err)
	}
}

func TestCheckStoreDownReturnsUnavailable(t *testing.T) {
	limiter, mr, _ := newTestLimiter(t)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := limiter.Check(ctx, "k", time.Minute, 5)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestStatusDoesNotRecordMarker(t *testing.T) {
	limiter, mr, _ := newTestLimiter(t)
	ctx := context.Background()
	key := limiter.Key("ip:10.0.0.4", "/x")

	for i := 0; i < 2; i++ {
		if _, err := limiter.Check(ctx, key, time.Minute, 5); err != nil {
			t.Fatalf("check: %v", err)
		}
	}

	res, err := limiter.Status(ctx, key, time.Minute, 5)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if res.Count != 2 || res.Remaining != 3 || !res.Allowed {
		t.Fatalf("unexpected status: %+v", res)
	}

	members, _ := mr.ZMembers(key)
	if len(members) != 2 {
		t.Fatalf("status must not add markers, got %d", len(members))
	}
}

func TestStatusMissingKeyReportsFullWindow(t *testing.T) {
	limiter, _, _ := newTestLimiter(t)

	res, err := limiter.Status(context.Background(), "rl:none", 30*time.Second, 5)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if res.Count != 0 || res.Remaining != 5 || res.ResetAfter != 30*time.Second {
		t.Fatalf("unexpected status for missing key: %+v", res)
	}
}
