package domain

import "time"

// InterruptionReason explains why a session was interrupted or why its
// interruption was closed.
type InterruptionReason string

const (
	// ReasonCriticalMessage marks an interruption triggered by a critical
	// inbound message.
	ReasonCriticalMessage InterruptionReason = "critical_message"
	// ReasonSupersededByPriorityZero marks an interruption closed because a
	// newer priority-zero critical message replaced it.
	ReasonSupersededByPriorityZero InterruptionReason = "superseded_by_priority_zero"
)

// SnapshotMetaCriticalMessageID keys the interrupting critical message id in
// snapshot metadata.
const SnapshotMetaCriticalMessageID = "critical_message_id"

// SessionSnapshot freezes a session's in-progress position so it can be
// restored on resume. Snapshots are immutable once created.
type SessionSnapshot struct {
	SessionID     string
	ParticipantID string
	StepLabel     string
	Progress      string // opaque payload supplied by the flow collaborator
	TakenAt       time.Time
	Metadata      map[string]string
}

// SessionInterruption records suspension of a participant's in-progress
// session in favor of handling a critical message. Interruptions are never
// deleted; closing one sets ResumedAt, preserving the audit trail.
type SessionInterruption struct {
	ID                string
	ParticipantID     string
	SessionID         string
	CriticalMessageID string
	Snapshot          SessionSnapshot
	Reason            InterruptionReason
	AutoResume        bool
	AdminOverride     bool
	InterruptedAt     time.Time
	ResumedAt         *time.Time // nil while the interruption is active
}

// Active reports whether the interruption is still open.
func (i SessionInterruption) Active() bool {
	return i.ResumedAt == nil
}

// Session tracks one participant conversation flow. The Interrupted flag
// always mirrors the existence of an active interruption for the session.
type Session struct {
	ID            string
	ParticipantID string
	CurrentStep   string
	Progress      string
	Interrupted   bool
	UpdatedAt     time.Time
}
