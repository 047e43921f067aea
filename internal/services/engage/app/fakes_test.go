package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/textline/engage/internal/services/engage/domain"
	"github.com/textline/engage/internal/services/engage/storage"
)

// fakeStore is an in-memory implementation of every engine store interface,
// with per-call failure injection for partial-failure tests.
type fakeStore struct {
	mu            sync.Mutex
	messages      map[string]domain.Message
	interruptions map[string]domain.SessionInterruption
	sessions      map[string]domain.Session
	types         map[string]domain.MessageType

	failPutMessage         error
	failOpenInterruption   error
	failResumeInterruption error
	failUpdateStatus       error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		messages:      make(map[string]domain.Message),
		interruptions: make(map[string]domain.SessionInterruption),
		sessions:      make(map[string]domain.Session),
		types:         make(map[string]domain.MessageType),
	}
}

func (f *fakeStore) PutMessage(ctx context.Context, message domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPutMessage != nil {
		return f.failPutMessage
	}
	f.messages[message.ID] = message
	return nil
}

func (f *fakeStore) GetMessage(ctx context.Context, id string) (domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	message, ok := f.messages[id]
	if !ok {
		return domain.Message{}, storage.ErrNotFound
	}
	return message, nil
}

func (f *fakeStore) UpdateMessageStatus(ctx context.Context, id string, status domain.MessageStatus, respondedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpdateStatus != nil {
		return f.failUpdateStatus
	}
	message, ok := f.messages[id]
	if !ok {
		return storage.ErrNotFound
	}
	message.Status = status
	message.RespondedAt = &respondedAt
	f.messages[id] = message
	return nil
}

func (f *fakeStore) LatestPendingCriticalMessage(ctx context.Context, participantID string) (domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest domain.Message
	found := false
	for _, message := range f.messages {
		if message.ParticipantID != participantID || !message.IsCritical || message.Status != domain.StatusPending {
			continue
		}
		if !found || message.CreatedAt.After(latest.CreatedAt) {
			latest = message
			found = true
		}
	}
	if !found {
		return domain.Message{}, storage.ErrNotFound
	}
	return latest, nil
}

func (f *fakeStore) ListPendingCriticalMessages(ctx context.Context) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pending []domain.Message
	for _, message := range f.messages {
		if message.IsCritical && message.Status == domain.StatusPending {
			pending = append(pending, message)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return pending, nil
}

func (f *fakeStore) PutInterruption(ctx context.Context, interruption domain.SessionInterruption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interruptions[interruption.ID] = interruption
	return nil
}

func (f *fakeStore) GetInterruption(ctx context.Context, id string) (domain.SessionInterruption, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	interruption, ok := f.interruptions[id]
	if !ok {
		return domain.SessionInterruption{}, storage.ErrNotFound
	}
	return interruption, nil
}

func (f *fakeStore) ActiveInterruptions(ctx context.Context, participantID string) ([]domain.SessionInterruption, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var active []domain.SessionInterruption
	for _, interruption := range f.interruptions {
		if interruption.ParticipantID == participantID && interruption.Active() {
			active = append(active, interruption)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].InterruptedAt.After(active[j].InterruptedAt)
	})
	return active, nil
}

func (f *fakeStore) CloseInterruption(ctx context.Context, id string, reason domain.InterruptionReason, resumedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	interruption, ok := f.interruptions[id]
	if !ok {
		return storage.ErrNotFound
	}
	if interruption.ResumedAt != nil {
		return nil
	}
	interruption.ResumedAt = &resumedAt
	interruption.Reason = reason
	f.interruptions[id] = interruption
	return nil
}

// OpenInterruption applies the supersessions, the insert, and the session
// flag together, or not at all on injected failure.
func (f *fakeStore) OpenInterruption(ctx context.Context, interruption domain.SessionInterruption, closing []storage.ClosedInterruption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOpenInterruption != nil {
		return f.failOpenInterruption
	}
	for _, closed := range closing {
		existing, ok := f.interruptions[closed.ID]
		if !ok || existing.ResumedAt != nil {
			continue
		}
		resumedAt := interruption.InterruptedAt
		existing.ResumedAt = &resumedAt
		existing.Reason = closed.Reason
		f.interruptions[closed.ID] = existing
	}
	f.interruptions[interruption.ID] = interruption
	f.setSessionInterruptedLocked(interruption.SessionID, true,
		interruption.Snapshot.StepLabel, interruption.Snapshot.Progress, interruption.InterruptedAt)
	return nil
}

// ResumeInterruption closes the interruption and restores the session
// together, or not at all on injected failure.
func (f *fakeStore) ResumeInterruption(ctx context.Context, id string, reason domain.InterruptionReason, resumedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failResumeInterruption != nil {
		return f.failResumeInterruption
	}
	interruption, ok := f.interruptions[id]
	if !ok {
		return storage.ErrNotFound
	}
	if interruption.ResumedAt != nil {
		return nil
	}
	interruption.ResumedAt = &resumedAt
	interruption.Reason = reason
	f.interruptions[id] = interruption
	f.setSessionInterruptedLocked(interruption.SessionID, false,
		interruption.Snapshot.StepLabel, interruption.Snapshot.Progress, resumedAt)
	return nil
}

func (f *fakeStore) PutSession(ctx context.Context, session domain.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[session.ID] = session
	return nil
}

func (f *fakeStore) GetSession(ctx context.Context, id string) (domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[id]
	if !ok {
		return domain.Session{}, storage.ErrNotFound
	}
	return session, nil
}

func (f *fakeStore) SetSessionInterrupted(ctx context.Context, id string, interrupted bool, step, progress string, updatedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setSessionInterruptedLocked(id, interrupted, step, progress, updatedAt)
	return nil
}

func (f *fakeStore) setSessionInterruptedLocked(id string, interrupted bool, step, progress string, updatedAt time.Time) {
	session := f.sessions[id]
	session.ID = id
	session.Interrupted = interrupted
	if step != "" {
		session.CurrentStep = step
	}
	if progress != "" {
		session.Progress = progress
	}
	session.UpdatedAt = updatedAt
	f.sessions[id] = session
}

func (f *fakeStore) GetMessageType(ctx context.Context, id string) (domain.MessageType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	messageType, ok := f.types[id]
	if !ok {
		return domain.MessageType{}, storage.ErrNotFound
	}
	return messageType, nil
}

func (f *fakeStore) activeCount(participantID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, interruption := range f.interruptions {
		if interruption.ParticipantID == participantID && interruption.Active() {
			count++
		}
	}
	return count
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func sequentialIDGenerator(ids ...string) func() (string, error) {
	var mu sync.Mutex
	next := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if next >= len(ids) {
			return "", fmt.Errorf("id sequence exhausted after %d", len(ids))
		}
		id := ids[next]
		next++
		return id, nil
	}
}
