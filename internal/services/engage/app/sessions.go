package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/textline/engage/internal/platform/id"
	"github.com/textline/engage/internal/services/engage/domain"
	"github.com/textline/engage/internal/services/engage/storage"
)

// SessionManager owns the per-participant session lifecycle: interrupting a
// session for a critical message, superseding one priority-zero interruption
// with another, and resuming. All mutations for one participant run under
// that participant's lock, which protects the supersession check-then-act.
type SessionManager struct {
	interruptions storage.InterruptionStore
	messages      storage.MessageStore
	types         storage.MessageTypeStore
	clock         func() time.Time
	newID         func() (string, error)
	locks         *participantLocks
}

// NewSessionManager constructs the session lifecycle manager. The
// interruption store owns the session flag as part of its combined writes,
// so no separate session store is needed here.
func NewSessionManager(
	interruptions storage.InterruptionStore,
	messages storage.MessageStore,
	types storage.MessageTypeStore,
	clock func() time.Time,
	newID func() (string, error),
) *SessionManager {
	if clock == nil {
		clock = time.Now
	}
	if newID == nil {
		newID = id.NewID
	}
	return &SessionManager{
		interruptions: interruptions,
		messages:      messages,
		types:         types,
		clock:         clock,
		newID:         newID,
		locks:         newParticipantLocks(),
	}
}

// InterruptInput describes one session suspension request.
type InterruptInput struct {
	ParticipantID     string
	SessionID         string
	CriticalMessageID string
	Keyword           domain.Keyword
	StepLabel         string
	Progress          string
	AutoResume        bool
	AdminOverride     bool
}

// Interrupt suspends the participant's session in favor of handling a
// critical message. When the new message is priority zero and the
// participant already has an active priority-zero interruption, the existing
// interruption is closed as superseded rather than stacked, keeping at most
// one active interruption per participant.
func (m *SessionManager) Interrupt(ctx context.Context, input InterruptInput) (domain.SessionInterruption, error) {
	if m == nil || m.interruptions == nil {
		return domain.SessionInterruption{}, ErrStoreNotConfigured
	}
	participantID := strings.TrimSpace(input.ParticipantID)
	if participantID == "" {
		return domain.SessionInterruption{}, ErrParticipantIDRequired
	}
	sessionID := strings.TrimSpace(input.SessionID)
	if sessionID == "" {
		return domain.SessionInterruption{}, ErrSessionIDRequired
	}
	criticalMessageID := strings.TrimSpace(input.CriticalMessageID)
	if criticalMessageID == "" {
		return domain.SessionInterruption{}, ErrCriticalMessageIDRequired
	}

	unlock := m.locks.lock(participantID)
	defer unlock()

	now := m.clock().UTC()
	active, err := m.activeAfterRepair(ctx, participantID, now)
	if err != nil {
		return domain.SessionInterruption{}, fmt.Errorf("look up active interruptions: %w", err)
	}

	// A participant carries at most one active interruption, so any prior
	// active one is closed in the same write that creates the new one. When
	// an emergency replaces an emergency the close is recorded as a
	// supersession, which discards the prior snapshot's active status in
	// favor of the new one.
	newIsEmergency := input.Keyword.Severity() == domain.PriorityEmergency
	closing := make([]storage.ClosedInterruption, 0, len(active))
	for _, existing := range active {
		reason := existing.Reason
		if newIsEmergency && m.isPriorityZero(ctx, existing) {
			reason = domain.ReasonSupersededByPriorityZero
		}
		closing = append(closing, storage.ClosedInterruption{ID: existing.ID, Reason: reason})
	}

	interruptionID, err := m.newID()
	if err != nil {
		return domain.SessionInterruption{}, fmt.Errorf("generate interruption id: %w", err)
	}
	interruption := domain.SessionInterruption{
		ID:                interruptionID,
		ParticipantID:     participantID,
		SessionID:         sessionID,
		CriticalMessageID: criticalMessageID,
		Snapshot: domain.SessionSnapshot{
			SessionID:     sessionID,
			ParticipantID: participantID,
			StepLabel:     input.StepLabel,
			Progress:      input.Progress,
			TakenAt:       now,
			Metadata: map[string]string{
				domain.SnapshotMetaCriticalMessageID: criticalMessageID,
			},
		},
		Reason:        domain.ReasonCriticalMessage,
		AutoResume:    input.AutoResume,
		AdminOverride: input.AdminOverride,
		InterruptedAt: now,
	}
	// One atomic write: supersede, insert, and flag the session together so
	// a failure cannot leave the flag diverged from the interruption set.
	if err := m.interruptions.OpenInterruption(ctx, interruption, closing); err != nil {
		return domain.SessionInterruption{}, fmt.Errorf("store interruption: %w", err)
	}
	return interruption, nil
}

// Resume closes the interruption and restores the snapshot's step and
// progress into the session. Resuming an already-resumed interruption is a
// no-op on the session's interrupted flag, not an error.
func (m *SessionManager) Resume(ctx context.Context, interruptionID string) (domain.SessionInterruption, error) {
	if m == nil || m.interruptions == nil {
		return domain.SessionInterruption{}, ErrStoreNotConfigured
	}
	interruptionID = strings.TrimSpace(interruptionID)
	if interruptionID == "" {
		return domain.SessionInterruption{}, ErrInterruptionIDRequired
	}

	interruption, err := m.interruptions.GetInterruption(ctx, interruptionID)
	if err != nil {
		return domain.SessionInterruption{}, fmt.Errorf("load interruption: %w", err)
	}
	if !interruption.Active() {
		return interruption, nil
	}

	unlock := m.locks.lock(interruption.ParticipantID)
	defer unlock()

	// Re-read under the lock so a concurrent resume observed above cannot
	// double-apply the session restore.
	interruption, err = m.interruptions.GetInterruption(ctx, interruptionID)
	if err != nil {
		return domain.SessionInterruption{}, fmt.Errorf("load interruption: %w", err)
	}
	if !interruption.Active() {
		return interruption, nil
	}

	now := m.clock().UTC()
	// One atomic write: close the interruption and restore the session
	// together so a failure cannot leave a closed interruption behind a
	// still-interrupted session.
	if err := m.interruptions.ResumeInterruption(ctx, interruption.ID, interruption.Reason, now); err != nil {
		return domain.SessionInterruption{}, fmt.Errorf("resume interruption: %w", err)
	}
	interruption.ResumedAt = &now
	return interruption, nil
}

// HasActivePriorityZero reports whether the participant's most recent pending
// critical message resolves to the emergency priority level. Any lookup
// failure answers false, failing closed toward "do not supersede".
func (m *SessionManager) HasActivePriorityZero(ctx context.Context, participantID string) bool {
	if m == nil || m.messages == nil {
		return false
	}
	message, err := m.messages.LatestPendingCriticalMessage(ctx, participantID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Printf("latest pending critical message for %s: %v", participantID, err)
		}
		return false
	}
	return m.messagePriority(ctx, message) == domain.PriorityEmergency
}

// activeAfterRepair loads the participant's active interruptions and heals
// any invariant violation: more than one active row is a consistency bug, so
// the most recent stays active and the rest are closed as superseded.
func (m *SessionManager) activeAfterRepair(ctx context.Context, participantID string, now time.Time) ([]domain.SessionInterruption, error) {
	active, err := m.interruptions.ActiveInterruptions(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if len(active) <= 1 {
		return active, nil
	}

	log.Printf("CONSISTENCY VIOLATION: participant %s has %d active interruptions; keeping newest %s", participantID, len(active), active[0].ID)
	for _, stale := range active[1:] {
		if err := m.interruptions.CloseInterruption(ctx, stale.ID, domain.ReasonSupersededByPriorityZero, now); err != nil {
			return nil, fmt.Errorf("repair stale interruption %s: %w", stale.ID, err)
		}
	}
	return active[:1], nil
}

// isPriorityZero resolves the priority of an interruption's triggering
// message. The message type is authoritative; when it cannot be resolved the
// triggering keyword decides, since an EMERGENCY prefix maps to priority
// zero by definition.
func (m *SessionManager) isPriorityZero(ctx context.Context, interruption domain.SessionInterruption) bool {
	if m.messages != nil {
		message, err := m.messages.GetMessage(ctx, interruption.CriticalMessageID)
		if err == nil {
			return m.messagePriority(ctx, message) == domain.PriorityEmergency
		}
		if !errors.Is(err, storage.ErrNotFound) {
			log.Printf("load triggering message %s: %v", interruption.CriticalMessageID, err)
		}
	}
	return false
}

// messagePriority maps a message to its type's priority level, falling back
// to the keyword severity when the type is unknown.
func (m *SessionManager) messagePriority(ctx context.Context, message domain.Message) int {
	if m.types != nil && message.MessageTypeID != "" {
		messageType, err := m.types.GetMessageType(ctx, message.MessageTypeID)
		if err == nil {
			return messageType.PriorityLevel
		}
		if !errors.Is(err, storage.ErrNotFound) {
			log.Printf("load message type %s: %v", message.MessageTypeID, err)
		}
	}
	return message.CriticalKeyword.Severity()
}
