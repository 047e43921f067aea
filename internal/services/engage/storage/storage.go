// Package storage defines the persistence boundary consumed by the
// engagement engine. Implementations must provide the two invariant-critical
// lookups as first-class queries: the active interruption for a participant
// and the most recent pending critical message for a participant.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/textline/engage/internal/services/engage/domain"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates a write conflicts with existing uniqueness
	// constraints.
	ErrConflict = errors.New("record conflict")
)

// MessageStore persists message lifecycle state.
type MessageStore interface {
	PutMessage(ctx context.Context, message domain.Message) error
	GetMessage(ctx context.Context, id string) (domain.Message, error)
	// UpdateMessageStatus transitions a message's status and stamps
	// RespondedAt. Implementations must reject unknown message ids with
	// ErrNotFound.
	UpdateMessageStatus(ctx context.Context, id string, status domain.MessageStatus, respondedAt time.Time) error
	// LatestPendingCriticalMessage returns the most recent pending critical
	// message for the participant, or ErrNotFound.
	LatestPendingCriticalMessage(ctx context.Context, participantID string) (domain.Message, error)
	// ListPendingCriticalMessages returns every pending critical message,
	// oldest first. Used for cold-start timeout recovery.
	ListPendingCriticalMessages(ctx context.Context) ([]domain.Message, error)
}

// ClosedInterruption names a prior interruption to close alongside opening a
// new one, with the reason to record on the closed row.
type ClosedInterruption struct {
	ID     string
	Reason domain.InterruptionReason
}

// InterruptionStore persists session interruption records. Interruptions are
// append-only apart from closing them via resume or supersession.
type InterruptionStore interface {
	PutInterruption(ctx context.Context, interruption domain.SessionInterruption) error
	GetInterruption(ctx context.Context, id string) (domain.SessionInterruption, error)
	// ActiveInterruptions returns interruptions for the participant with no
	// resume timestamp, newest first. An empty slice is not an error.
	ActiveInterruptions(ctx context.Context, participantID string) ([]domain.SessionInterruption, error)
	// CloseInterruption sets ResumedAt and the closing reason. Closing an
	// already-closed interruption must be a no-op.
	CloseInterruption(ctx context.Context, id string, reason domain.InterruptionReason, resumedAt time.Time) error
	// OpenInterruption closes the listed prior interruptions, inserts the new
	// interruption, and marks its session interrupted with the snapshot's
	// step and progress, all in one write. A failure must leave every row
	// untouched so the session flag cannot diverge from the interruption set.
	OpenInterruption(ctx context.Context, interruption domain.SessionInterruption, closing []ClosedInterruption) error
	// ResumeInterruption stamps ResumedAt and the closing reason and clears
	// the session's interrupted flag, restoring the snapshot's step and
	// progress, all in one write. Resuming an already-closed interruption is
	// a no-op; an unknown id is ErrNotFound.
	ResumeInterruption(ctx context.Context, id string, reason domain.InterruptionReason, resumedAt time.Time) error
}

// SessionStore persists session flow state, including the interrupted flag
// that mirrors the existence of an active interruption.
type SessionStore interface {
	PutSession(ctx context.Context, session domain.Session) error
	GetSession(ctx context.Context, id string) (domain.Session, error)
	// SetSessionInterrupted flips the interrupted flag and, when resuming,
	// restores the step label and progress payload.
	SetSessionInterrupted(ctx context.Context, id string, interrupted bool, step, progress string, updatedAt time.Time) error
}

// MessageTypeStore reads message-type reference data.
type MessageTypeStore interface {
	GetMessageType(ctx context.Context, id string) (domain.MessageType, error)
}
