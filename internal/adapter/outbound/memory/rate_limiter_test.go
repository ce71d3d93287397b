package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tollgate-labs/tollgate/internal/domain/ratelimit"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLimiter() (*MemoryRateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewRateLimiter(quietLogger(), WithRateLimiterClock(clock.Now)), clock
}

func TestRateLimiter_Burst(t *testing.T) {
	t.Parallel()

	r, clock := newTestLimiter()
	cfg := ratelimit.Config{Rate: 2, Burst: 2, Period: time.Second}
	ctx := context.Background()

	steps := []struct {
		advance   time.Duration
		allowed   bool
		remaining int
		retry     time.Duration
	}{
		{0, true, 1, 0},
		{0, true, 0, 0},
		{0, false, 0, 500 * time.Millisecond},
		{500 * time.Millisecond, true, 0, 0},
		{0, false, 0, 500 * time.Millisecond},
		{2 * time.Second, true, 1, 0},
	}
	for i, st := range steps {
		clock.Advance(st.advance)
		res, err := r.Allow(ctx, "k", cfg)
		if err != nil {
			t.Fatalf("step %d: Allow() error: %v", i, err)
		}
		if res.Allowed != st.allowed || res.Remaining != st.remaining || res.RetryAfter != st.retry {
			t.Errorf("step %d: Allow() = %+v, want allowed=%v remaining=%d retry=%s",
				i, res, st.allowed, st.remaining, st.retry)
		}
	}
}

func TestRateLimiter_KeysIndependent(t *testing.T) {
	t.Parallel()

	r, _ := newTestLimiter()
	cfg := ratelimit.Config{Rate: 1, Period: time.Minute}
	ctx := context.Background()

	for _, key := range []string{"a", "b"} {
		if res, _ := r.Allow(ctx, key, cfg); !res.Allowed {
			t.Errorf("first event for %s denied", key)
		}
	}
	if res, _ := r.Allow(ctx, "a", cfg); res.Allowed {
		t.Error("second event for a allowed within the period")
	}
	if r.Size() != 2 {
		t.Errorf("Size() = %d, want 2", r.Size())
	}
}

func TestRateLimiter_Disabled(t *testing.T) {
	t.Parallel()

	r, _ := newTestLimiter()
	for i := 0; i < 100; i++ {
		res, err := r.Allow(context.Background(), "k", ratelimit.Config{})
		if err != nil || !res.Allowed {
			t.Fatalf("disabled config denied event %d: %+v, %v", i, res, err)
		}
	}
	if r.Size() != 0 {
		t.Errorf("disabled config tracked %d keys", r.Size())
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	t.Parallel()

	r, clock := newTestLimiter()
	cfg := ratelimit.Config{Rate: 10, Period: time.Second}
	ctx := context.Background()

	_, _ = r.Allow(ctx, "old", cfg)
	clock.Advance(2 * time.Hour)
	_, _ = r.Allow(ctx, "new", cfg)

	r.cleanup()
	if r.Size() != 1 {
		t.Errorf("Size() after cleanup = %d, want 1", r.Size())
	}
}

func TestRateLimiter_StopIdempotent(t *testing.T) {
	t.Parallel()

	r, _ := newTestLimiter()
	r.StartCleanup(context.Background())
	r.Stop()
	r.Stop()
}

func TestRateLimiter_Concurrent(t *testing.T) {
	t.Parallel()

	r, _ := newTestLimiter()
	cfg := ratelimit.Config{Rate: 50, Burst: 50, Period: time.Minute}
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, _ := r.Allow(ctx, "shared", cfg)
			if res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if allowed != 50 {
		t.Errorf("allowed = %d, want exactly the burst of 50", allowed)
	}
}
