package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tollgate-labs/tollgate/internal/domain/ratelimit"
)

// MemoryRateLimiter implements ratelimit.Limiter with GCRA, keeping one
// theoretical arrival time per key. Idle keys are dropped by a background
// sweep once they are older than maxIdle.
type MemoryRateLimiter struct {
	mu      sync.Mutex
	tat     map[string]time.Time
	now     func() time.Time
	maxIdle time.Duration
	sweep   time.Duration
	logger  *slog.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// RateLimiterOption configures a MemoryRateLimiter.
type RateLimiterOption func(*MemoryRateLimiter)

// WithRateLimiterClock overrides time.Now.
func WithRateLimiterClock(now func() time.Time) RateLimiterOption {
	return func(r *MemoryRateLimiter) { r.now = now }
}

// WithSweep sets how often idle keys are swept and how long a key may idle.
func WithSweep(interval, maxIdle time.Duration) RateLimiterOption {
	return func(r *MemoryRateLimiter) {
		r.sweep = interval
		r.maxIdle = maxIdle
	}
}

// NewRateLimiter creates a limiter sweeping every 5 minutes for keys idle
// longer than an hour.
func NewRateLimiter(logger *slog.Logger, opts ...RateLimiterOption) *MemoryRateLimiter {
	r := &MemoryRateLimiter{
		tat:      make(map[string]time.Time),
		now:      time.Now,
		maxIdle:  time.Hour,
		sweep:    5 * time.Minute,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Allow admits one event for key when its arrival time is within the burst
// allowance, and advances the key's arrival time by one emission interval.
func (r *MemoryRateLimiter) Allow(_ context.Context, key string, cfg ratelimit.Config) (ratelimit.Result, error) {
	if !cfg.Enabled() {
		return ratelimit.Result{Allowed: true}, nil
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.Rate
	}
	emission := cfg.Period / time.Duration(cfg.Rate)
	window := time.Duration(cfg.Burst) * emission

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	tat, ok := r.tat[key]
	if !ok || tat.Before(now) {
		tat = now
	}

	next := tat.Add(emission)
	if wait := next.Sub(now) - window; wait > 0 {
		return ratelimit.Result{RetryAfter: wait}, nil
	}
	r.tat[key] = next

	remaining := int((window - next.Sub(now)) / emission)
	return ratelimit.Result{Allowed: true, Remaining: max(remaining, 0)}, nil
}

// StartCleanup sweeps idle keys until ctx is done or Stop is called.
func (r *MemoryRateLimiter) StartCleanup(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.sweep)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopChan:
				return
			case <-ticker.C:
				r.cleanup()
			}
		}
	}()
}

func (r *MemoryRateLimiter) cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.maxIdle)
	cleaned := 0
	for key, tat := range r.tat {
		if tat.Before(cutoff) {
			delete(r.tat, key)
			cleaned++
		}
	}
	if cleaned > 0 {
		r.logger.Debug("rate limiter sweep", "cleaned_keys", cleaned, "remaining_keys", len(r.tat))
	}
}

// Stop stops the sweep goroutine. Safe to call multiple times.
func (r *MemoryRateLimiter) Stop() {
	r.once.Do(func() {
		close(r.stopChan)
	})
	r.wg.Wait()
}

// Size returns the number of tracked keys.
func (r *MemoryRateLimiter) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tat)
}

var _ ratelimit.Limiter = (*MemoryRateLimiter)(nil)
