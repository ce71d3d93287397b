// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tollgate-labs/tollgate/internal/domain/session"
)

// DefaultSnapshotSweep is how often expired snapshots are dropped.
const DefaultSnapshotSweep = time.Minute

var errNoSessionID = errors.New("snapshot has no session id")

// SnapshotStore keeps session snapshots in process memory. Snapshots are
// stored and returned as copies, so callers never share a Session with it.
// A snapshot past its EndDate reads as missing and is dropped by the sweep.
type SnapshotStore struct {
	mu    sync.RWMutex
	byID  map[string]*session.Session
	now   func() time.Time
	every time.Duration

	logger *slog.Logger

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// SnapshotOption configures a SnapshotStore.
type SnapshotOption func(*SnapshotStore)

// WithSnapshotSweep sets the sweep interval.
func WithSnapshotSweep(every time.Duration) SnapshotOption {
	return func(s *SnapshotStore) { s.every = every }
}

// WithSnapshotClock overrides time.Now for expiry checks.
func WithSnapshotClock(now func() time.Time) SnapshotOption {
	return func(s *SnapshotStore) { s.now = now }
}

// NewSnapshotStore creates an empty store. Call StartSweep to drop expired
// snapshots in the background.
func NewSnapshotStore(logger *slog.Logger, opts ...SnapshotOption) *SnapshotStore {
	s := &SnapshotStore{
		byID:   make(map[string]*session.Session),
		now:    time.Now,
		every:  DefaultSnapshotSweep,
		logger: logger.With("component", "snapshots"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SnapshotStore) expired(snap *session.Session) bool {
	return !snap.EndDate.IsZero() && s.now().After(snap.EndDate)
}

// Create stores a snapshot, replacing any with the same session id.
func (s *SnapshotStore) Create(_ context.Context, snap *session.Session) error {
	if snap == nil || snap.ID == "" {
		return errNoSessionID
	}
	s.mu.Lock()
	s.byID[snap.ID] = snap.Clone()
	s.mu.Unlock()
	return nil
}

// Get returns a copy of the snapshot, or session.ErrSessionNotFound when it
// is missing or expired.
func (s *SnapshotStore) Get(_ context.Context, id string) (*session.Session, error) {
	s.mu.RLock()
	snap, ok := s.byID[id]
	s.mu.RUnlock()

	if !ok || s.expired(snap) {
		return nil, session.ErrSessionNotFound
	}
	return snap.Clone(), nil
}

// Update replaces a stored snapshot. Unknown ids are not created.
func (s *SnapshotStore) Update(_ context.Context, snap *session.Session) error {
	if snap == nil || snap.ID == "" {
		return errNoSessionID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[snap.ID]; !ok {
		return session.ErrSessionNotFound
	}
	s.byID[snap.ID] = snap.Clone()
	return nil
}

// Delete drops a snapshot. Deleting a missing id is not an error.
func (s *SnapshotStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.byID, id)
	s.mu.Unlock()
	return nil
}

// Size returns the number of stored snapshots, expired ones included.
func (s *SnapshotStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Sweep drops expired snapshots and returns how many it dropped.
func (s *SnapshotStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, snap := range s.byID {
		if s.expired(snap) {
			delete(s.byID, id)
			n++
		}
	}
	return n
}

// StartSweep runs Sweep every interval until ctx ends or Stop is called.
// A second call while running is a no-op.
func (s *SnapshotStore) StartSweep(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.sweepLoop(ctx, s.done)
}

func (s *SnapshotStore) sweepLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Debug("dropped expired snapshots", "count", n)
			}
		}
	}
}

// Stop ends the sweep and waits for it to exit. It is safe to call more
// than once, or without StartSweep.
func (s *SnapshotStore) Stop() {
	s.runMu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

var _ session.SessionStore = (*SnapshotStore)(nil)
