package app

import (
	"sync"
	"time"
)

// Stats accumulates engine counters. Counters only grow until Reset.
type Stats struct {
	mu           sync.Mutex
	processed    uint64
	critical     uint64
	interrupted  uint64
	notified     uint64
	latencySum   time.Duration
	latencyCount uint64
}

// StatsSnapshot is a read-only view of the counters.
type StatsSnapshot struct {
	Processed      uint64
	Critical       uint64
	Interrupted    uint64
	Notified       uint64
	AverageLatency time.Duration
}

// NewStats constructs zeroed counters.
func NewStats() *Stats {
	return &Stats{}
}

func (s *Stats) recordProcessed(critical, interrupted, notified bool, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed++
	if critical {
		s.critical++
	}
	if interrupted {
		s.interrupted++
	}
	if notified {
		s.notified++
	}
	if latency > 0 {
		s.latencySum += latency
		s.latencyCount++
	}
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := StatsSnapshot{
		Processed:   s.processed,
		Critical:    s.critical,
		Interrupted: s.interrupted,
		Notified:    s.notified,
	}
	if s.latencyCount > 0 {
		snapshot.AverageLatency = s.latencySum / time.Duration(s.latencyCount)
	}
	return snapshot
}

// Reset zeroes every counter.
func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed = 0
	s.critical = 0
	s.interrupted = 0
	s.notified = 0
	s.latencySum = 0
	s.latencyCount = 0
}
