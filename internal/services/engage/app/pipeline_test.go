package app

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/textline/engage/internal/services/engage/content"
	"github.com/textline/engage/internal/services/engage/domain"
	"github.com/textline/engage/internal/services/engage/notify"
	"github.com/textline/engage/internal/services/engage/schedule"
)

func newTestPipeline(t *testing.T, store *fakeStore, scheduler *schedule.Scheduler, ids ...string) *Pipeline {
	t.Helper()
	generator, err := content.NewTemplateGenerator(nil)
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	sessions := NewSessionManager(store, store, store, nil, nil)
	opts := []PipelineOption{}
	if len(ids) > 0 {
		opts = append(opts, WithPipelineIDGenerator(sequentialIDGenerator(ids...)))
	}
	return NewPipeline(store, store, sessions, scheduler, notify.ThresholdGate{MaxPriority: 1}, generator, opts...)
}

func TestProcessCriticalMessage(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	scheduler := schedule.New()
	pipeline := newTestPipeline(t, store, scheduler, "msg-1")

	result, err := pipeline.Process(context.Background(), ProcessInput{
		Text:          "EMERGENCY: server down",
		ParticipantID: "p-1",
		SessionID:     "sess-1",
		StepLabel:     "quiz_q2",
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !result.Critical {
		t.Fatal("expected critical flag")
	}
	if result.Keyword != domain.KeywordEmergency {
		t.Fatalf("expected EMERGENCY keyword, got %q", result.Keyword)
	}
	if !result.Interrupted {
		t.Fatal("expected session interruption")
	}
	if !result.TimeoutRegistered {
		t.Fatal("expected timeout registration")
	}
	if !result.AdminNotified {
		t.Fatal("expected admin notification for priority-0 keyword")
	}
	if result.ResponseText == "" {
		t.Fatal("expected acknowledgment text")
	}

	stored, err := store.GetMessage(context.Background(), "msg-1")
	if err != nil {
		t.Fatalf("get stored message: %v", err)
	}
	if stored.Status != domain.StatusPending {
		t.Fatalf("expected pending status, got %q", stored.Status)
	}
	if stored.ReplySeconds != domain.CriticalReplySeconds {
		t.Fatalf("expected critical reply window %d, got %d", domain.CriticalReplySeconds, stored.ReplySeconds)
	}
	if scheduler.Len() != 1 {
		t.Fatalf("expected one scheduled deadline, got %d", scheduler.Len())
	}
}

func TestProcessNonCriticalMessage(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	pipeline := newTestPipeline(t, store, schedule.New(), "msg-1")

	result, err := pipeline.Process(context.Background(), ProcessInput{
		Text:          "hello there",
		ParticipantID: "p-1",
		SessionID:     "sess-1",
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Critical {
		t.Fatal("expected non-critical")
	}
	if result.Keyword != "" {
		t.Fatalf("expected no keyword, got %q", result.Keyword)
	}
	if result.Interrupted || result.AdminNotified || result.TimeoutRegistered {
		t.Fatal("expected no critical side effects")
	}
	if store.activeCount("p-1") != 0 {
		t.Fatal("expected no interruption rows")
	}
}

func TestProcessResolvesReplyWindowForResponseRequired(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.types["mt-poll"] = domain.MessageType{ID: "mt-poll", Name: "poll", DefaultTimeoutSeconds: 300}
	pipeline := newTestPipeline(t, store, schedule.New(), "msg-1")

	_, err := pipeline.Process(context.Background(), ProcessInput{
		Text:             "my answer is B",
		ParticipantID:    "p-1",
		SessionID:        "sess-1",
		MessageTypeID:    "mt-poll",
		ResponseRequired: true,
		Participant:      &domain.ParticipantPrefs{PrefTimeoutSeconds: 600},
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	stored, err := store.GetMessage(context.Background(), "msg-1")
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if stored.ReplySeconds != 600 {
		t.Fatalf("expected participant preference 600, got %d", stored.ReplySeconds)
	}
}

func TestProcessValidatesInput(t *testing.T) {
	t.Parallel()

	pipeline := newTestPipeline(t, newFakeStore(), schedule.New())

	if _, err := pipeline.Process(context.Background(), ProcessInput{ParticipantID: "p", SessionID: "s"}); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("expected empty text error, got %v", err)
	}
	if _, err := pipeline.Process(context.Background(), ProcessInput{Text: "hi", SessionID: "s"}); !errors.Is(err, ErrParticipantIDRequired) {
		t.Fatalf("expected participant error, got %v", err)
	}
	if _, err := pipeline.Process(context.Background(), ProcessInput{Text: "hi", ParticipantID: "p"}); !errors.Is(err, ErrSessionIDRequired) {
		t.Fatalf("expected session error, got %v", err)
	}
}

func TestProcessStorageFailureAborts(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.failPutMessage = errors.New("disk full")
	pipeline := newTestPipeline(t, store, schedule.New(), "msg-1")

	if _, err := pipeline.Process(context.Background(), ProcessInput{
		Text:          "EMERGENCY: help",
		ParticipantID: "p-1",
		SessionID:     "sess-1",
	}); err == nil {
		t.Fatal("expected storage failure to abort processing")
	}
	if store.activeCount("p-1") != 0 {
		t.Fatal("expected no interruption after storage failure")
	}
	if got := pipeline.Stats().Processed; got != 0 {
		t.Fatalf("expected no processed count after total failure, got %d", got)
	}
}

func TestProcessInterruptionFailureIsReportedNotPropagated(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.failOpenInterruption = errors.New("interruption table locked")
	scheduler := schedule.New()
	pipeline := newTestPipeline(t, store, scheduler, "msg-1")

	result, err := pipeline.Process(context.Background(), ProcessInput{
		Text:          "URGENT: need help",
		ParticipantID: "p-1",
		SessionID:     "sess-1",
	})
	if err != nil {
		t.Fatalf("expected partial success, got %v", err)
	}
	if result.Interrupted {
		t.Fatal("expected interruption failure to be reported as false")
	}
	if !result.TimeoutRegistered {
		t.Fatal("expected timeout registration to proceed despite interruption failure")
	}
	if _, err := store.GetMessage(context.Background(), "msg-1"); err != nil {
		t.Fatalf("expected message stored despite interruption failure: %v", err)
	}
}

func TestReplyDeadlineMarksPendingMessage(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	pipeline := newTestPipeline(t, store, schedule.New(), "msg-1")

	if _, err := pipeline.Process(context.Background(), ProcessInput{
		Text:          "CRITICAL: gate stuck",
		ParticipantID: "p-1",
		SessionID:     "sess-1",
	}); err != nil {
		t.Fatalf("process: %v", err)
	}

	pipeline.onReplyDeadline(context.Background(), "msg-1")

	stored, err := store.GetMessage(context.Background(), "msg-1")
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	// The generator produced a follow-up, so the timeout upgrades.
	if stored.Status != domain.StatusAutoReplied {
		t.Fatalf("expected auto_replied status, got %q", stored.Status)
	}
}

func TestReplyDeadlineIsNoopForRespondedMessage(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	scheduler := schedule.New()
	pipeline := newTestPipeline(t, store, scheduler, "msg-1")

	if _, err := pipeline.Process(context.Background(), ProcessInput{
		Text:          "CRITICAL: gate stuck",
		ParticipantID: "p-1",
		SessionID:     "sess-1",
	}); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := pipeline.MarkResponded(context.Background(), "msg-1"); err != nil {
		t.Fatalf("mark responded: %v", err)
	}
	if scheduler.Len() != 0 {
		t.Fatalf("expected reply to cancel the deadline, got %d handles", scheduler.Len())
	}

	// A straggling fire after the reply must not clobber the status.
	pipeline.onReplyDeadline(context.Background(), "msg-1")
	stored, err := store.GetMessage(context.Background(), "msg-1")
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if stored.Status != domain.StatusResponded {
		t.Fatalf("expected responded status to stick, got %q", stored.Status)
	}
}

func TestProcessBatch(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	pipeline := newTestPipeline(t, store, schedule.New())

	inputs := []ProcessInput{
		{Text: "EMERGENCY: fire alarm", ParticipantID: "p-1", SessionID: "sess-1"},
		{Text: "hello", ParticipantID: "p-2", SessionID: "sess-2"},
		{Text: "", ParticipantID: "p-3", SessionID: "sess-3"}, // invalid item
	}
	result, err := pipeline.ProcessBatch(context.Background(), inputs)
	if err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if result.Stats.Total != 3 {
		t.Fatalf("expected 3 total, got %d", result.Stats.Total)
	}
	if result.Stats.Critical != 1 {
		t.Fatalf("expected 1 critical, got %d", result.Stats.Critical)
	}
	if result.Stats.Failed != 1 {
		t.Fatalf("expected 1 failed, got %d", result.Stats.Failed)
	}
	if len(result.Items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(result.Items))
	}
	if result.Items[2].Err == nil {
		t.Fatal("expected third item to fail validation")
	}
	if result.Items[0].Err != nil {
		t.Fatalf("expected first item to succeed, got %v", result.Items[0].Err)
	}
}

func TestProcessBatchRejectsEmptyAndOversized(t *testing.T) {
	t.Parallel()

	pipeline := newTestPipeline(t, newFakeStore(), schedule.New())

	if _, err := pipeline.ProcessBatch(context.Background(), nil); !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("expected empty batch error, got %v", err)
	}

	small := NewPipeline(newFakeStore(), nil, nil, nil, nil, nil, WithMaxBatch(2))
	inputs := make([]ProcessInput, 3)
	_, err := small.ProcessBatch(context.Background(), inputs)
	var sizeErr BatchSizeError
	if !errors.As(err, &sizeErr) {
		t.Fatalf("expected batch size error, got %v", err)
	}
	if sizeErr.Size != 3 || sizeErr.Limit != 2 {
		t.Fatalf("unexpected size error fields: %+v", sizeErr)
	}
}

func TestRecoverPendingTimeouts(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)
	store := newFakeStore()
	seedCriticalMessage(store, "m1", "p-1", domain.KeywordEmergency, "", base)
	seedCriticalMessage(store, "m2", "p-2", domain.KeywordUrgent, "", base.Add(time.Minute))
	// Resolved messages must not be recovered.
	store.messages["m3"] = domain.Message{ID: "m3", ParticipantID: "p-3", IsCritical: true, Status: domain.StatusResponded, CreatedAt: base}

	scheduler := schedule.New()
	pipeline := newTestPipeline(t, store, scheduler)

	recovered, err := pipeline.RecoverPendingTimeouts(context.Background())
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered != 2 {
		t.Fatalf("expected 2 recovered deadlines, got %d", recovered)
	}
	if scheduler.Len() != 2 {
		t.Fatalf("expected 2 scheduled handles, got %d", scheduler.Len())
	}
}

func TestStatsAccumulateAndReset(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	ids := make([]string, 0, 4)
	for i := 0; i < 4; i++ {
		ids = append(ids, fmt.Sprintf("msg-%d", i))
	}
	pipeline := newTestPipeline(t, store, schedule.New(), ids...)

	for _, text := range []string{"EMERGENCY: one", "hello", "URGENT: two", "bye"} {
		if _, err := pipeline.Process(context.Background(), ProcessInput{
			Text:          text,
			ParticipantID: "p-1",
			SessionID:     "sess-1",
		}); err != nil {
			t.Fatalf("process %q: %v", text, err)
		}
	}

	snapshot := pipeline.Stats()
	if snapshot.Processed != 4 {
		t.Fatalf("expected 4 processed, got %d", snapshot.Processed)
	}
	if snapshot.Critical != 2 {
		t.Fatalf("expected 2 critical, got %d", snapshot.Critical)
	}
	if snapshot.Interrupted != 2 {
		t.Fatalf("expected 2 interrupted, got %d", snapshot.Interrupted)
	}

	pipeline.ResetStats()
	snapshot = pipeline.Stats()
	if snapshot.Processed != 0 || snapshot.Critical != 0 {
		t.Fatalf("expected zeroed stats after reset, got %+v", snapshot)
	}
}
