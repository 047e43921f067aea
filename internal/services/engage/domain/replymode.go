package domain

// ReplyMode describes the tone constraints applied to a generated response.
type ReplyMode int

const (
	// ReplyModeNeutral applies no tone constraint.
	ReplyModeNeutral ReplyMode = iota
	// ReplyModeProfessional forces a formal tone.
	ReplyModeProfessional
	// ReplyModeCasual allows a relaxed tone.
	ReplyModeCasual
)

// String returns the string representation of the reply mode.
func (m ReplyMode) String() string {
	switch m {
	case ReplyModeProfessional:
		return "professional"
	case ReplyModeCasual:
		return "casual"
	case ReplyModeNeutral:
		return "neutral"
	default:
		return "unknown"
	}
}

// GroupMood is a coarse group sentiment label set by event operators.
type GroupMood string

const (
	// MoodUpbeat marks an energetic, positive group.
	MoodUpbeat GroupMood = "upbeat"
	// MoodCelebratory marks a festive group.
	MoodCelebratory GroupMood = "celebratory"
	// MoodFocused marks a task-oriented group.
	MoodFocused GroupMood = "focused"
	// MoodSomber marks a subdued group.
	MoodSomber GroupMood = "somber"
)

// ResolveReplyMode derives the tone policy for a response. Professional wins
// when either the participant or the group forces it; otherwise an upbeat or
// celebratory group mood selects casual, and everything else is neutral.
func ResolveReplyMode(participant *ParticipantPrefs, group *GroupPrefs) ReplyMode {
	if participant != nil && participant.ForceProfessional {
		return ReplyModeProfessional
	}
	if group != nil {
		if group.ForceProfessional {
			return ReplyModeProfessional
		}
		switch group.Mood {
		case MoodUpbeat, MoodCelebratory:
			return ReplyModeCasual
		}
	}
	return ReplyModeNeutral
}

// recurringFlows classifies message-type names that represent repeating
// interactions rather than one-shot prompts.
var recurringFlows = map[string]bool{
	"quiz_question":     true,
	"quiz_round":        true,
	"scheduled_checkin": true,
	"poll_reminder":     true,
}

// IsRecurringFlow reports whether the message type represents a recurring
// interaction, such as a quiz question loop, versus a one-shot prompt.
func IsRecurringFlow(mt MessageType) bool {
	return recurringFlows[mt.Name]
}
