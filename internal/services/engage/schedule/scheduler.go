// Package schedule maintains in-memory reply deadlines and fires callbacks
// when a deadline elapses. Handles are keyed by message id: re-registering a
// message resets its deadline, and cancellation removes the handle without
// firing. State is process-local; pending deadlines are recovered after a
// restart by the orchestrator, not by this package.
package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/textline/engage/internal/platform/timeouts"
)

// Callback runs when a registered deadline elapses. Callbacks execute outside
// the scheduler lock and must tolerate running after the message they track
// was resolved elsewhere; callers prevent stale fires with Cancel.
type Callback func(ctx context.Context, messageID string)

// handle is one tracked reply deadline.
type handle struct {
	messageID string
	seconds   int
	callback  Callback
	expiresAt time.Time
}

// Scheduler tracks reply deadlines and sweeps for expiries on a fixed
// interval. The zero value is not usable; construct with New.
type Scheduler struct {
	mu      sync.Mutex
	handles map[string]handle
	clock   func() time.Time
	sweep   time.Duration
}

// Option adjusts scheduler construction.
type Option func(*Scheduler)

// WithClock overrides the time source. Used by tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Scheduler) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithSweepInterval overrides the sweep cadence.
func WithSweepInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.sweep = interval
		}
	}
}

// New constructs an empty scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		handles: make(map[string]handle),
		clock:   time.Now,
		sweep:   timeouts.SweepInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register tracks a deadline of seconds from now for the message. An existing
// handle for the same message id is overwritten, resetting the deadline
// rather than stacking a second one.
func (s *Scheduler) Register(messageID string, seconds int, callback Callback) {
	if messageID == "" || seconds <= 0 || callback == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handles[messageID] = handle{
		messageID: messageID,
		seconds:   seconds,
		callback:  callback,
		expiresAt: s.clock().Add(time.Duration(seconds) * time.Second),
	}
}

// Cancel removes the message's handle without firing its callback. Canceling
// an unknown id is a no-op. A cancel racing a sweep that already collected
// the handle lets the in-flight callback complete.
func (s *Scheduler) Cancel(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handles, messageID)
}

// Len reports the number of tracked deadlines.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// Run sweeps for expired deadlines until the context is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep collects handles whose deadline has passed, removes them, and fires
// each callback exactly once. Callbacks run in their own goroutines outside
// the lock so a slow repository write cannot block the sweep loop. The
// callback context is detached from the sweep's cancellation: a deadline that
// already expired still gets its resolution written even when the sweep loop
// is shutting down.
func (s *Scheduler) Sweep(ctx context.Context) {
	now := s.clock()

	s.mu.Lock()
	var expired []handle
	for id, h := range s.handles {
		if !h.expiresAt.After(now) {
			expired = append(expired, h)
			delete(s.handles, id)
		}
	}
	s.mu.Unlock()

	fireCtx := context.WithoutCancel(ctx)
	for _, h := range expired {
		go h.callback(fireCtx, h.messageID)
	}
}
