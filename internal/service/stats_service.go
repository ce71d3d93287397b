package service

import (
	"sync"
	"sync/atomic"
)

// StatsService tracks payment outcomes using lock-free atomic counters.
// All counter operations are safe for concurrent access from multiple goroutines.
type StatsService struct {
	paid         atomic.Int64
	duplicate    atomic.Int64
	insufficient atomic.Int64
	rejected     atomic.Int64
	failed       atomic.Int64
	reconnects   atomic.Int64

	// Per-road counters (mutex-protected map).
	mu         sync.Mutex
	roadCounts map[string]int64
}

// NewStatsService creates a new StatsService with all counters initialized to zero.
func NewStatsService() *StatsService {
	return &StatsService{
		roadCounts: make(map[string]int64),
	}
}

// RecordToll increments the counter for a payToll status.
// Unknown statuses count as failed.
func (s *StatsService) RecordToll(status string) {
	switch status {
	case TollStatusPaid:
		s.paid.Add(1)
	case TollStatusDuplicate:
		s.duplicate.Add(1)
	case TollStatusInsufficient:
		s.insufficient.Add(1)
	case TollStatusRejected:
		s.rejected.Add(1)
	default:
		s.failed.Add(1)
	}
}

// RecordReconnect increments the reconnect counter.
func (s *StatsService) RecordReconnect() {
	s.reconnects.Add(1)
}

// RecordRoad increments the paid-toll counter for the given road.
// Empty strings are skipped.
func (s *StatsService) RecordRoad(road string) {
	if road == "" {
		return
	}
	s.mu.Lock()
	s.roadCounts[road]++
	s.mu.Unlock()
}

// Stats holds a snapshot of all counters at a point in time.
type Stats struct {
	Paid         int64            `json:"paid"`
	Duplicate    int64            `json:"duplicate"`
	Insufficient int64            `json:"insufficient_balance"`
	Rejected     int64            `json:"rejected"`
	Failed       int64            `json:"failed"`
	Reconnects   int64            `json:"reconnects"`
	RoadCounts   map[string]int64 `json:"road_counts"`
}

// GetStats returns a snapshot of all counters.
// The snapshot is consistent per-counter but not atomically across all counters.
func (s *StatsService) GetStats() Stats {
	s.mu.Lock()
	rc := make(map[string]int64, len(s.roadCounts))
	for k, v := range s.roadCounts {
		rc[k] = v
	}
	s.mu.Unlock()

	return Stats{
		Paid:         s.paid.Load(),
		Duplicate:    s.duplicate.Load(),
		Insufficient: s.insufficient.Load(),
		Rejected:     s.rejected.Load(),
		Failed:       s.failed.Load(),
		Reconnects:   s.reconnects.Load(),
		RoadCounts:   rc,
	}
}

// Reset sets all counters to zero.
func (s *StatsService) Reset() {
	s.paid.Store(0)
	s.duplicate.Store(0)
	s.insufficient.Store(0)
	s.rejected.Store(0)
	s.failed.Store(0)
	s.reconnects.Store(0)

	s.mu.Lock()
	s.roadCounts = make(map[string]int64)
	s.mu.Unlock()
}
