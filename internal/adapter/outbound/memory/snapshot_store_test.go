package memory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/goleak"

	"github.com/tollgate-labs/tollgate/internal/domain/session"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSnapshot(id string, end time.Time) *session.Session {
	return &session.Session{
		ID:             id,
		ChannelID:      "channel_1",
		UserAddress:    "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf",
		InitialDeposit: 100_000_000,
		CurrentBalance: 100_000_000,
		StartDate:      end.Add(-time.Hour),
		EndDate:        end,
		Status:         session.StatusActive,
		TotalSpent:     decimal.Zero,
		GasSaved:       decimal.Zero,
	}
}

func TestSnapshotStore_Lifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSnapshotStore(quietLogger())
	snap := newSnapshot("session_1", time.Now().Add(time.Hour))

	if err := store.Update(ctx, snap); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Update() before Create error = %v, want ErrSessionNotFound", err)
	}
	if err := store.Create(ctx, snap); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	snap.CurrentBalance = 98_500_000
	snap.TollsPaid = 1
	if err := store.Update(ctx, snap); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	got, err := store.Get(ctx, "session_1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.CurrentBalance != 98_500_000 || got.TollsPaid != 1 {
		t.Errorf("snapshot = %+v, want balance 98500000 and 1 toll", got)
	}

	if err := store.Delete(ctx, "session_1"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := store.Get(ctx, "session_1"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Get() after Delete error = %v, want ErrSessionNotFound", err)
	}
	if err := store.Delete(ctx, "session_1"); err != nil {
		t.Errorf("second Delete() error = %v, want nil", err)
	}
}

func TestSnapshotStore_RejectsMissingID(t *testing.T) {
	t.Parallel()

	store := NewSnapshotStore(quietLogger())
	if err := store.Create(context.Background(), &session.Session{}); err == nil {
		t.Error("Create() without id should fail")
	}
	if err := store.Update(context.Background(), nil); err == nil {
		t.Error("Update(nil) should fail")
	}
}

func TestSnapshotStore_Copies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSnapshotStore(quietLogger())

	snap := newSnapshot("session_copy", time.Now().Add(time.Hour))
	if err := store.Create(ctx, snap); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	snap.CurrentBalance = 1

	got, _ := store.Get(ctx, "session_copy")
	if got.CurrentBalance != 100_000_000 {
		t.Error("store kept the caller's pointer")
	}
	got.CurrentBalance = 2

	again, _ := store.Get(ctx, "session_copy")
	if again.CurrentBalance != 100_000_000 {
		t.Error("store handed out its own pointer")
	}
}

func TestSnapshotStore_Expiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := NewSnapshotStore(quietLogger(), WithSnapshotClock(clock.Now))

	if err := store.Create(ctx, newSnapshot("short", clock.Now().Add(time.Minute))); err != nil {
		t.Fatal(err)
	}
	if err := store.Create(ctx, newSnapshot("long", clock.Now().Add(time.Hour))); err != nil {
		t.Fatal(err)
	}
	if err := store.Create(ctx, &session.Session{ID: "open-ended", Status: session.StatusActive}); err != nil {
		t.Fatal(err)
	}

	clock.Advance(2 * time.Minute)

	if _, err := store.Get(ctx, "short"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Get(short) error = %v, want ErrSessionNotFound", err)
	}
	if store.Size() != 3 {
		t.Errorf("Size() = %d, want 3 before the sweep", store.Size())
	}
	if n := store.Sweep(); n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}
	for _, id := range []string{"long", "open-ended"} {
		if _, err := store.Get(ctx, id); err != nil {
			t.Errorf("Get(%s) error: %v", id, err)
		}
	}
}

func TestSnapshotStore_Concurrent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSnapshotStore(quietLogger())
	end := time.Now().Add(time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("session_%d", i%10)
		wg.Add(3)
		go func() {
			defer wg.Done()
			_ = store.Create(ctx, newSnapshot(id, end))
		}()
		go func() {
			defer wg.Done()
			_ = store.Update(ctx, newSnapshot(id, end))
		}()
		go func() {
			defer wg.Done()
			if _, err := store.Get(ctx, id); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
				t.Errorf("Get() error: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := store.Size(); n != 10 {
		t.Errorf("Size() = %d, want 10", n)
	}
}

func TestSnapshotStore_BackgroundSweep(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := NewSnapshotStore(quietLogger(), WithSnapshotSweep(10*time.Millisecond))
	if err := store.Create(context.Background(), newSnapshot("gone", time.Now().Add(-time.Second))); err != nil {
		t.Fatal(err)
	}

	store.StartSweep(context.Background())
	store.StartSweep(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for store.Size() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("expired snapshot not swept")
		}
		time.Sleep(5 * time.Millisecond)
	}

	store.Stop()
	store.Stop()
}

func TestSnapshotStore_StopWithoutStart(t *testing.T) {
	defer goleak.VerifyNone(t)

	NewSnapshotStore(quietLogger()).Stop()
}

func TestSnapshotStore_SweepEndsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	store := NewSnapshotStore(quietLogger(), WithSnapshotSweep(time.Millisecond))
	store.StartSweep(ctx)
	cancel()
	store.Stop()
}
