package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tollgate-labs/tollgate/internal/domain/session"
)

// redisAddrEnv names a disposable Redis instance used by the integration tests.
const redisAddrEnv = "TOLLGATE_TEST_REDIS_ADDR"

func newTestStore(t *testing.T) *SessionStore {
	t.Helper()
	addr := os.Getenv(redisAddrEnv)
	if addr == "" {
		t.Skipf("%s not set", redisAddrEnv)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	store, err := NewSessionStore(ctx, addr, "", 0)
	if err != nil {
		t.Fatalf("NewSessionStore() error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestExpiry(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := &SessionStore{ttl: time.Hour, now: func() time.Time { return now }}

	if got := s.expiry(&session.Session{}); got != time.Hour {
		t.Errorf("expiry(no end) = %v, want 1h", got)
	}
	if got := s.expiry(&session.Session{EndDate: now.Add(30 * 24 * time.Hour)}); got != 720*time.Hour {
		t.Errorf("expiry(30d) = %v, want 720h", got)
	}
	if got := s.expiry(&session.Session{EndDate: now.Add(-time.Minute)}); got > 0 {
		t.Errorf("expiry(past) = %v, want <= 0", got)
	}
}

func TestKey(t *testing.T) {
	t.Parallel()

	if got := key("session_1_abc"); got != "tollgate:session:session_1_abc" {
		t.Errorf("key = %q", got)
	}
}

func TestSessionStore_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := &session.Session{
		ID:             "session_test_" + time.Now().Format("150405.000000"),
		UserAddress:    "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf",
		InitialDeposit: 100000000,
		CurrentBalance: 98500000,
		StartDate:      time.Now().UTC(),
		EndDate:        time.Now().UTC().Add(time.Minute),
		Status:         session.StatusActive,
		TollsPaid:      1,
		TotalSpent:     decimal.RequireFromString("1.5"),
		GasSaved:       decimal.RequireFromString("2.5"),
	}
	t.Cleanup(func() { _ = store.Delete(ctx, sess.ID) })

	if err := store.Update(ctx, sess); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Update() before Create() error = %v, want ErrSessionNotFound", err)
	}
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.CurrentBalance != 98500000 || !got.TotalSpent.Equal(sess.TotalSpent) {
		t.Errorf("Get() = %+v", got)
	}

	sess.CurrentBalance = 0
	if err := store.Update(ctx, sess); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if got, _ := store.Get(ctx, sess.ID); got.CurrentBalance != 0 {
		t.Errorf("CurrentBalance after Update() = %d, want 0", got.CurrentBalance)
	}

	if err := store.Delete(ctx, sess.ID); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := store.Get(ctx, sess.ID); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Get() after Delete() error = %v, want ErrSessionNotFound", err)
	}
}
