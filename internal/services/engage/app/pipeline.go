package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/textline/engage/internal/platform/id"
	"github.com/textline/engage/internal/services/engage/content"
	"github.com/textline/engage/internal/services/engage/domain"
	"github.com/textline/engage/internal/services/engage/notify"
	"github.com/textline/engage/internal/services/engage/schedule"
	"github.com/textline/engage/internal/services/engage/storage"
)

const defaultMaxBatch = 100

// ProcessInput describes one inbound message plus its optional override
// layers for the reply-deadline hierarchy.
type ProcessInput struct {
	Text                 string
	ParticipantID        string
	SessionID            string
	MessageTypeID        string
	StepLabel            string
	Progress             string
	Participant          *domain.ParticipantPrefs
	Group                *domain.GroupPrefs
	Quiz                 *domain.QuizPrefs
	Question             *domain.QuestionPrefs
	AdminOverrideSeconds int
	ResponseRequired     bool
}

// ProcessedMessage reports what succeeded for one inbound message. Detection
// and storage either both succeed or the whole operation fails; everything
// downstream of storage is best-effort and independently reported here.
type ProcessedMessage struct {
	Message           domain.Message
	Critical          bool
	Keyword           domain.Keyword
	Interrupted       bool
	InterruptionID    string
	TimeoutRegistered bool
	AdminNotified     bool
	ReplyMode         domain.ReplyMode
	ResponseText      string
}

// BatchResult carries per-item outcomes plus aggregate batch statistics.
type BatchResult struct {
	Items []BatchItem
	Stats BatchStats
}

// BatchItem is one batch entry's outcome. Err is set when the item failed;
// failures are per-item and never abort the batch.
type BatchItem struct {
	Result ProcessedMessage
	Err    error
}

// BatchStats aggregates one batch run.
type BatchStats struct {
	Total          int
	Critical       int
	Failed         int
	AverageLatency time.Duration
}

// Pipeline sequences detection, persistence, interruption, timeout
// registration, and notification for inbound messages. It is the only entry
// point external callers use.
type Pipeline struct {
	messages  storage.MessageStore
	types     storage.MessageTypeStore
	sessions  *SessionManager
	scheduler *schedule.Scheduler
	gate      notify.Gate
	generator content.Generator
	stats     *Stats
	clock     func() time.Time
	newID     func() (string, error)
	maxBatch  int
	tracer    trace.Tracer
}

// PipelineOption adjusts pipeline construction.
type PipelineOption func(*Pipeline)

// WithPipelineClock overrides the time source. Used by tests.
func WithPipelineClock(clock func() time.Time) PipelineOption {
	return func(p *Pipeline) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithPipelineIDGenerator overrides message id generation. Used by tests.
func WithPipelineIDGenerator(newID func() (string, error)) PipelineOption {
	return func(p *Pipeline) {
		if newID != nil {
			p.newID = newID
		}
	}
}

// WithMaxBatch overrides the batch size limit.
func WithMaxBatch(limit int) PipelineOption {
	return func(p *Pipeline) {
		if limit > 0 {
			p.maxBatch = limit
		}
	}
}

// NewPipeline constructs the message-processing pipeline.
func NewPipeline(
	messages storage.MessageStore,
	types storage.MessageTypeStore,
	sessions *SessionManager,
	scheduler *schedule.Scheduler,
	gate notify.Gate,
	generator content.Generator,
	opts ...PipelineOption,
) *Pipeline {
	p := &Pipeline{
		messages:  messages,
		types:     types,
		sessions:  sessions,
		scheduler: scheduler,
		gate:      gate,
		generator: generator,
		stats:     NewStats(),
		clock:     time.Now,
		newID:     id.NewID,
		maxBatch:  defaultMaxBatch,
		tracer:    otel.Tracer("engage/pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process ingests one inbound message. Storage failure aborts the operation;
// interruption, timeout registration, and notification failures degrade to
// false result fields and never propagate.
func (p *Pipeline) Process(ctx context.Context, input ProcessInput) (ProcessedMessage, error) {
	if p == nil || p.messages == nil {
		return ProcessedMessage{}, ErrStoreNotConfigured
	}
	start := p.clock()

	ctx, span := p.tracer.Start(ctx, "pipeline.process")
	defer span.End()

	text := input.Text
	if strings.TrimSpace(text) == "" {
		return ProcessedMessage{}, ErrEmptyText
	}
	participantID := strings.TrimSpace(input.ParticipantID)
	if participantID == "" {
		return ProcessedMessage{}, ErrParticipantIDRequired
	}
	sessionID := strings.TrimSpace(input.SessionID)
	if sessionID == "" {
		return ProcessedMessage{}, ErrSessionIDRequired
	}

	keyword, critical := domain.ExtractKeyword(text)
	span.SetAttributes(attribute.Bool("message.critical", critical))

	messageID, err := p.newID()
	if err != nil {
		return ProcessedMessage{}, fmt.Errorf("generate message id: %w", err)
	}

	messageType := p.lookupType(ctx, input.MessageTypeID)
	replySeconds := 0
	switch {
	case critical:
		replySeconds = domain.CriticalReplySeconds
	case input.ResponseRequired:
		replySeconds = domain.ResolveTimeout(domain.TimeoutContext{
			MessageType:          messageType,
			Participant:          input.Participant,
			Group:                input.Group,
			Quiz:                 input.Quiz,
			Question:             input.Question,
			AdminOverrideSeconds: input.AdminOverrideSeconds,
		})
	}

	message := domain.Message{
		ID:               messageID,
		ParticipantID:    participantID,
		SessionID:        sessionID,
		Direction:        domain.DirectionInbound,
		Text:             text,
		IsCritical:       critical,
		CriticalKeyword:  keyword,
		ResponseRequired: critical || input.ResponseRequired,
		Status:           domain.StatusPending,
		MessageTypeID:    strings.TrimSpace(input.MessageTypeID),
		ReplySeconds:     replySeconds,
		CreatedAt:        start.UTC(),
	}
	if err := p.messages.PutMessage(ctx, message); err != nil {
		return ProcessedMessage{}, fmt.Errorf("store inbound message: %w", err)
	}

	result := ProcessedMessage{
		Message:   message,
		Critical:  critical,
		Keyword:   keyword,
		ReplyMode: domain.ResolveReplyMode(input.Participant, input.Group),
	}

	if critical {
		p.handleCritical(ctx, input, message, messageType, &result)
	}

	p.stats.recordProcessed(critical, result.Interrupted, result.AdminNotified, p.clock().Sub(start))
	return result, nil
}

// handleCritical runs the best-effort critical path: interrupt the session,
// register the dedicated reply window, consult the notification gate, and
// assemble an acknowledgment. Each step degrades independently.
func (p *Pipeline) handleCritical(ctx context.Context, input ProcessInput, message domain.Message, messageType domain.MessageType, result *ProcessedMessage) {
	if p.sessions != nil {
		interruption, err := p.sessions.Interrupt(ctx, InterruptInput{
			ParticipantID:     message.ParticipantID,
			SessionID:         message.SessionID,
			CriticalMessageID: message.ID,
			Keyword:           message.CriticalKeyword,
			StepLabel:         input.StepLabel,
			Progress:          input.Progress,
			AutoResume:        messageType.AutoInterrupt,
		})
		if err != nil {
			log.Printf("interrupt session %s: %v", message.SessionID, err)
		} else {
			result.Interrupted = true
			result.InterruptionID = interruption.ID
		}
	}

	if p.scheduler != nil {
		p.scheduler.Register(message.ID, domain.CriticalReplySeconds, p.onReplyDeadline)
		result.TimeoutRegistered = true
	} else {
		log.Printf("no scheduler configured, message %s has no expiry tracked", message.ID)
	}

	if p.gate != nil {
		result.AdminNotified = p.gate.ShouldNotify(p.criticalPriority(message, messageType))
	}

	if p.generator != nil {
		text, err := p.generator.Generate(ctx, content.FlowCriticalAck, map[string]string{
			"keyword": string(message.CriticalKeyword),
		})
		if err != nil {
			log.Printf("generate critical ack for %s: %v", message.ID, err)
		} else {
			result.ResponseText = text
		}
	}
}

// criticalPriority prefers the message type's priority and falls back to the
// keyword severity when no type is configured.
func (p *Pipeline) criticalPriority(message domain.Message, messageType domain.MessageType) int {
	if message.MessageTypeID != "" && messageType.ID != "" {
		return messageType.PriorityLevel
	}
	return message.CriticalKeyword.Severity()
}

// lookupType loads reference data for the message type. A missing or failing
// lookup yields the zero type, which downstream code treats as "unset".
func (p *Pipeline) lookupType(ctx context.Context, messageTypeID string) domain.MessageType {
	messageTypeID = strings.TrimSpace(messageTypeID)
	if messageTypeID == "" || p.types == nil {
		return domain.MessageType{}
	}
	messageType, err := p.types.GetMessageType(ctx, messageTypeID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Printf("load message type %s: %v", messageTypeID, err)
		}
		return domain.MessageType{}
	}
	return messageType
}

// onReplyDeadline fires when a critical message's reply window elapses. A
// message that already left pending is a no-op. When a timeout follow-up can
// be generated the message becomes auto_replied, otherwise plain timeout.
func (p *Pipeline) onReplyDeadline(ctx context.Context, messageID string) {
	message, err := p.messages.GetMessage(ctx, messageID)
	if err != nil {
		log.Printf("load message %s on deadline: %v", messageID, err)
		return
	}
	if message.Status != domain.StatusPending {
		return
	}

	status := domain.StatusTimeout
	if p.generator != nil {
		if _, err := p.generator.Generate(ctx, content.FlowTimeoutFollowup, nil); err == nil {
			status = domain.StatusAutoReplied
		} else {
			log.Printf("generate timeout follow-up for %s: %v", messageID, err)
		}
	}
	if err := p.messages.UpdateMessageStatus(ctx, messageID, status, p.clock().UTC()); err != nil {
		log.Printf("mark message %s %s: %v", messageID, status, err)
	}
}

// MarkResponded records a reply to a pending message and cancels its
// scheduled expiry.
func (p *Pipeline) MarkResponded(ctx context.Context, messageID string) error {
	if p == nil || p.messages == nil {
		return ErrStoreNotConfigured
	}
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return ErrCriticalMessageIDRequired
	}
	if err := p.messages.UpdateMessageStatus(ctx, messageID, domain.StatusResponded, p.clock().UTC()); err != nil {
		return fmt.Errorf("mark message responded: %w", err)
	}
	if p.scheduler != nil {
		p.scheduler.Cancel(messageID)
	}
	return nil
}

// ProcessBatch ingests a bounded list of messages. Size violations are
// rejected before any side effect; item failures are isolated.
func (p *Pipeline) ProcessBatch(ctx context.Context, inputs []ProcessInput) (BatchResult, error) {
	if len(inputs) == 0 {
		return BatchResult{}, ErrEmptyBatch
	}
	if len(inputs) > p.maxBatch {
		return BatchResult{}, BatchSizeError{Size: len(inputs), Limit: p.maxBatch}
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.process_batch",
		trace.WithAttributes(attribute.Int("batch.size", len(inputs))))
	defer span.End()

	result := BatchResult{Items: make([]BatchItem, 0, len(inputs))}
	var latencySum time.Duration
	for _, input := range inputs {
		itemStart := p.clock()
		processed, err := p.Process(ctx, input)
		latencySum += p.clock().Sub(itemStart)

		item := BatchItem{Result: processed, Err: err}
		result.Items = append(result.Items, item)
		result.Stats.Total++
		if err != nil {
			result.Stats.Failed++
			continue
		}
		if processed.Critical {
			result.Stats.Critical++
		}
	}
	if result.Stats.Total > 0 {
		result.Stats.AverageLatency = latencySum / time.Duration(result.Stats.Total)
	}
	return result, nil
}

// RecoverPendingTimeouts re-registers expiry tracking for persisted pending
// critical messages. Timer state is process-local, so this runs once at cold
// start before the sweep loop begins.
func (p *Pipeline) RecoverPendingTimeouts(ctx context.Context) (int, error) {
	if p == nil || p.messages == nil {
		return 0, ErrStoreNotConfigured
	}
	if p.scheduler == nil {
		return 0, nil
	}
	pending, err := p.messages.ListPendingCriticalMessages(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending critical messages: %w", err)
	}
	recovered := 0
	for _, message := range pending {
		seconds := message.ReplySeconds
		if seconds <= 0 {
			seconds = domain.CriticalReplySeconds
		}
		p.scheduler.Register(message.ID, seconds, p.onReplyDeadline)
		recovered++
	}
	return recovered, nil
}

// Stats returns a snapshot of the accumulated counters.
func (p *Pipeline) Stats() StatsSnapshot {
	return p.stats.Snapshot()
}

// ResetStats zeroes the accumulated counters.
func (p *Pipeline) ResetStats() {
	p.stats.Reset()
}
