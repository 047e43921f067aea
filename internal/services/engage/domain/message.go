package domain

import "time"

// MessageDirection identifies whether a message was received or sent.
type MessageDirection string

const (
	// DirectionInbound marks a message received from a participant.
	DirectionInbound MessageDirection = "inbound"
	// DirectionOutbound marks a message sent to a participant.
	DirectionOutbound MessageDirection = "outbound"
)

// MessageStatus identifies one message lifecycle state.
type MessageStatus string

const (
	// StatusPending means the message is awaiting a reply or resolution.
	StatusPending MessageStatus = "pending"
	// StatusResponded means a reply arrived before the deadline.
	StatusResponded MessageStatus = "responded"
	// StatusTimeout means the reply deadline elapsed without a reply.
	StatusTimeout MessageStatus = "timeout"
	// StatusAutoReplied means the deadline elapsed and an automatic follow-up
	// was generated in place of a plain timeout.
	StatusAutoReplied MessageStatus = "auto_replied"
)

// PriorityEmergency is the most urgent message-type priority level. At most
// one active interruption of this level is permitted per participant.
const PriorityEmergency = 0

// Message is one inbound or outbound text. Messages are created on ingestion
// and mutated only by status transitions; they are never deleted.
type Message struct {
	ID               string
	ParticipantID    string
	SessionID        string
	Direction        MessageDirection
	Text             string
	IsCritical       bool
	CriticalKeyword  Keyword // empty unless IsCritical
	ResponseRequired bool
	Status           MessageStatus
	MessageTypeID    string
	ReplySeconds     int // resolved reply window, 0 when no reply is tracked
	CreatedAt        time.Time
	RespondedAt      *time.Time // nil until the message leaves pending
}

// MessageType is read-only reference data describing one category of message.
type MessageType struct {
	ID                    string
	Name                  string
	PriorityLevel         int // 0 = Emergency; higher values are less urgent
	DefaultTimeoutSeconds int
	AutoInterrupt         bool
}
