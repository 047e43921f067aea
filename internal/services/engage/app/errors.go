package app

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyText indicates an inbound message with no text.
	ErrEmptyText = errors.New("message text is required")
	// ErrParticipantIDRequired indicates participant identity is required.
	ErrParticipantIDRequired = errors.New("participant id is required")
	// ErrSessionIDRequired indicates a session id is required.
	ErrSessionIDRequired = errors.New("session id is required")
	// ErrCriticalMessageIDRequired indicates the triggering message id is required.
	ErrCriticalMessageIDRequired = errors.New("critical message id is required")
	// ErrInterruptionIDRequired indicates an interruption id is required.
	ErrInterruptionIDRequired = errors.New("interruption id is required")
	// ErrEmptyBatch indicates a batch with no items.
	ErrEmptyBatch = errors.New("batch is empty")
	// ErrStoreNotConfigured indicates missing persistence wiring.
	ErrStoreNotConfigured = errors.New("engine store is not configured")
)

// BatchSizeError rejects a batch larger than the configured maximum before
// any side effect.
type BatchSizeError struct {
	Size  int
	Limit int
}

func (e BatchSizeError) Error() string {
	return fmt.Sprintf("batch of %d exceeds limit of %d", e.Size, e.Limit)
}
