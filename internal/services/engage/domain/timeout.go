package domain

// DefaultReplySeconds is the system fallback reply window applied when every
// layer of the override hierarchy is unset.
const DefaultReplySeconds = 300

// CriticalReplySeconds is the dedicated reply window for critical messages.
// Critical messages bypass the override hierarchy and always use this value.
const CriticalReplySeconds = 300

// ParticipantPrefs carries per-participant reply preferences. Zero values
// mean "unset".
type ParticipantPrefs struct {
	PrefTimeoutSeconds int
	ForceProfessional  bool
}

// GroupPrefs carries group-level reply defaults. Zero values mean "unset".
type GroupPrefs struct {
	DefaultReplySeconds int
	ForceProfessional   bool
	Mood                GroupMood
}

// QuizPrefs carries quiz-level reply defaults.
type QuizPrefs struct {
	DefaultReplySeconds int
}

// QuestionPrefs carries a per-question reply override.
type QuestionPrefs struct {
	ReplySeconds int
}

// TimeoutContext is the resolver input: the message type plus every optional
// override layer. It is never persisted.
type TimeoutContext struct {
	MessageType          MessageType
	Participant          *ParticipantPrefs
	Group                *GroupPrefs
	Quiz                 *QuizPrefs
	Question             *QuestionPrefs
	AdminOverrideSeconds int
}

// ResolveTimeout computes the effective reply window in seconds. Layers are
// consulted in strict descending precedence: admin override, question, quiz,
// group, participant preference, message-type default. The first positive
// value wins; when every layer is unset the system default applies, so the
// result is always positive.
func ResolveTimeout(tc TimeoutContext) int {
	if tc.AdminOverrideSeconds > 0 {
		return tc.AdminOverrideSeconds
	}
	if tc.Question != nil && tc.Question.ReplySeconds > 0 {
		return tc.Question.ReplySeconds
	}
	if tc.Quiz != nil && tc.Quiz.DefaultReplySeconds > 0 {
		return tc.Quiz.DefaultReplySeconds
	}
	if tc.Group != nil && tc.Group.DefaultReplySeconds > 0 {
		return tc.Group.DefaultReplySeconds
	}
	if tc.Participant != nil && tc.Participant.PrefTimeoutSeconds > 0 {
		return tc.Participant.PrefTimeoutSeconds
	}
	if tc.MessageType.DefaultTimeoutSeconds > 0 {
		return tc.MessageType.DefaultTimeoutSeconds
	}
	return DefaultReplySeconds
}
