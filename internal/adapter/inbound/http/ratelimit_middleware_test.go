package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tollgate-labs/tollgate/internal/domain/ratelimit"
)

// fakeLimiter allows the first n events per key.
type fakeLimiter struct {
	mu    sync.Mutex
	n     int
	err   error
	seen  map[string]int
	retry time.Duration
}

func (f *fakeLimiter) Allow(_ context.Context, key string, _ ratelimit.Config) (ratelimit.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return ratelimit.Result{}, f.err
	}
	if f.seen == nil {
		f.seen = make(map[string]int)
	}
	f.seen[key]++
	if f.seen[key] > f.n {
		return ratelimit.Result{RetryAfter: f.retry}, nil
	}
	return ratelimit.Result{Allowed: true}, nil
}

func payFrom(t *testing.T, h http.Handler, ip string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/tolls", strings.NewReader(`{"toll_id":"TOLL_01"}`))
	req.Header.Set("X-Forwarded-For", ip)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPayRateLimit(t *testing.T) {
	t.Parallel()

	limiter := &fakeLimiter{n: 2, retry: 1500 * time.Millisecond}
	svc := &fakeTollService{}
	h := newTestHandler(svc, WithPayRateLimit(limiter, ratelimit.Config{Rate: 2, Period: time.Minute}))

	for i := 0; i < 2; i++ {
		if rec := payFrom(t, h, "10.0.0.1"); rec.Code != http.StatusOK {
			t.Fatalf("payment %d = %d: %s", i, rec.Code, rec.Body.String())
		}
	}

	rec := payFrom(t, h, "10.0.0.1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third payment = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "2" {
		t.Errorf("Retry-After = %q, want 2", got)
	}
	if body := decodeJSON[errorResponse](t, rec); body.Code != "rate_limited" {
		t.Errorf("code = %q, want rate_limited", body.Code)
	}

	if rec := payFrom(t, h, "10.0.0.2"); rec.Code != http.StatusOK {
		t.Errorf("other client = %d, want 200", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/v1/tolls", ""); rec.Code != http.StatusOK {
		t.Errorf("GET /v1/tolls = %d, want 200 (not limited)", rec.Code)
	}
	if _, ok := limiter.seen[ratelimit.FormatKey(ratelimit.KeyTypeIP, "10.0.0.1")]; !ok {
		t.Errorf("limiter keys = %v, want an ip key", limiter.seen)
	}
}

func TestPayRateLimit_FailsOpen(t *testing.T) {
	t.Parallel()

	limiter := &fakeLimiter{err: errors.New("boom")}
	svc := &fakeTollService{}
	h := newTestHandler(svc, WithPayRateLimit(limiter, ratelimit.Config{Rate: 1, Period: time.Minute}))

	if rec := payFrom(t, h, "10.0.0.1"); rec.Code != http.StatusOK {
		t.Errorf("payment with failing limiter = %d, want 200", rec.Code)
	}
}

func TestPayRateLimit_DisabledConfig(t *testing.T) {
	t.Parallel()

	limiter := &fakeLimiter{n: 0}
	svc := &fakeTollService{}
	h := newTestHandler(svc, WithPayRateLimit(limiter, ratelimit.Config{}))

	if rec := payFrom(t, h, "10.0.0.1"); rec.Code != http.StatusOK {
		t.Errorf("payment with disabled limit = %d, want 200", rec.Code)
	}
	if len(limiter.seen) != 0 {
		t.Error("disabled limit consulted the limiter")
	}
}
