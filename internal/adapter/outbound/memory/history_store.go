package memory

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/tollgate-labs/tollgate/internal/domain/toll"
)

// MemoryHistoryStore implements toll.HistoryStore with one bounded ring
// buffer per session. When a writer is set, every appended transaction is
// also written to it as a JSON line.
type MemoryHistoryStore struct {
	encoder *json.Encoder
	mu      sync.Mutex
	recent  map[string][]toll.Transaction
	cap     int
}

// resolveCapacity returns the first positive capacity value, or toll.DefaultHistoryLimit.
func resolveCapacity(capacity ...int) int {
	if len(capacity) > 0 && capacity[0] > 0 {
		return capacity[0]
	}
	return toll.DefaultHistoryLimit
}

// NewHistoryStore creates a history store keeping capacity transactions
// per session (default 100).
func NewHistoryStore(capacity ...int) *MemoryHistoryStore {
	return &MemoryHistoryStore{
		recent: make(map[string][]toll.Transaction),
		cap:    resolveCapacity(capacity...),
	}
}

// NewHistoryStoreWithWriter creates a history store that also writes a
// JSON receipt line to w for every transaction.
func NewHistoryStoreWithWriter(w io.Writer, capacity ...int) *MemoryHistoryStore {
	s := NewHistoryStore(capacity...)
	s.encoder = json.NewEncoder(w)
	return s
}

// Append records tx, dropping the session's oldest entry when full.
func (s *MemoryHistoryStore) Append(_ context.Context, tx toll.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.encoder != nil {
		if err := s.encoder.Encode(tx); err != nil {
			return err
		}
	}

	buf := s.recent[tx.SessionID]
	if len(buf) >= s.cap {
		// Shift left, drop oldest.
		copy(buf, buf[1:])
		buf[len(buf)-1] = tx
	} else {
		buf = append(buf, tx)
	}
	s.recent[tx.SessionID] = buf
	return nil
}

// Recent returns up to limit transactions of sessionID, newest first.
func (s *MemoryHistoryStore) Recent(_ context.Context, sessionID string, limit int) ([]toll.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := s.recent[sessionID]
	total := len(buf)
	if limit <= 0 || limit > total {
		limit = total
	}
	if limit == 0 {
		return nil, nil
	}
	result := make([]toll.Transaction, limit)
	for i := 0; i < limit; i++ {
		result[i] = buf[total-1-i]
	}
	return result, nil
}

// Compile-time interface verification.
var _ toll.HistoryStore = (*MemoryHistoryStore)(nil)
