package app

import "sync"

// participantLocks serializes state mutations per participant. Two different
// participants' sessions may be mutated concurrently, but the supersession
// check-then-act for one participant must run single-writer.
type participantLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newParticipantLocks() *participantLocks {
	return &participantLocks{entries: make(map[string]*lockEntry)}
}

// lock acquires the participant's lock and returns its release function.
// Entries are reference-counted so the map does not grow with every
// participant ever seen.
func (l *participantLocks) lock(participantID string) func() {
	l.mu.Lock()
	entry, ok := l.entries[participantID]
	if !ok {
		entry = &lockEntry{}
		l.entries[participantID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.entries, participantID)
		}
		l.mu.Unlock()
	}
}
