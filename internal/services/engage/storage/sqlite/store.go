// Package sqlite provides SQLite-backed persistence for the engagement
// engine's messages, sessions, interruptions, and message-type reference
// data.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/textline/engage/internal/platform/storage/sqlitemigrate"
	"github.com/textline/engage/internal/services/engage/domain"
	"github.com/textline/engage/internal/services/engage/storage"
	"github.com/textline/engage/internal/services/engage/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence for engine state.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens an engine SQLite store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_pragma=foreign_keys(ON)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

// PutMessage persists one message row.
func (s *Store) PutMessage(ctx context.Context, message domain.Message) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(message.ID) == "" {
		return fmt.Errorf("message id is required")
	}
	var respondedAt any
	if message.RespondedAt != nil {
		respondedAt = toMillis(*message.RespondedAt)
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO messages (
    id, participant_id, session_id, direction, text, is_critical,
    critical_keyword, response_required, status, message_type_id,
    reply_seconds, created_at, responded_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    status = excluded.status,
    responded_at = excluded.responded_at`,
		message.ID,
		message.ParticipantID,
		message.SessionID,
		string(message.Direction),
		message.Text,
		boolToInt(message.IsCritical),
		string(message.CriticalKeyword),
		boolToInt(message.ResponseRequired),
		string(message.Status),
		message.MessageTypeID,
		message.ReplySeconds,
		toMillis(message.CreatedAt),
		respondedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// GetMessage loads one message by id.
func (s *Store) GetMessage(ctx context.Context, id string) (domain.Message, error) {
	if err := s.ready(ctx); err != nil {
		return domain.Message{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, participant_id, session_id, direction, text, is_critical,
       critical_keyword, response_required, status, message_type_id,
       reply_seconds, created_at, responded_at
FROM messages WHERE id = ?`, id)
	return scanMessage(row)
}

// UpdateMessageStatus transitions a message's status and stamps the
// resolution time.
func (s *Store) UpdateMessageStatus(ctx context.Context, id string, status domain.MessageStatus, respondedAt time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE messages SET status = ?, responded_at = ? WHERE id = ?`,
		string(status), toMillis(respondedAt), id)
	if err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update message status rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// LatestPendingCriticalMessage returns the most recent pending critical
// message for the participant.
func (s *Store) LatestPendingCriticalMessage(ctx context.Context, participantID string) (domain.Message, error) {
	if err := s.ready(ctx); err != nil {
		return domain.Message{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, participant_id, session_id, direction, text, is_critical,
       critical_keyword, response_required, status, message_type_id,
       reply_seconds, created_at, responded_at
FROM messages
WHERE participant_id = ? AND is_critical = 1 AND status = 'pending'
ORDER BY created_at DESC
LIMIT 1`, participantID)
	return scanMessage(row)
}

// ListPendingCriticalMessages returns every pending critical message, oldest
// first.
func (s *Store) ListPendingCriticalMessages(ctx context.Context) ([]domain.Message, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, participant_id, session_id, direction, text, is_critical,
       critical_keyword, response_required, status, message_type_id,
       reply_seconds, created_at, responded_at
FROM messages
WHERE is_critical = 1 AND status = 'pending'
ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list pending critical messages: %w", err)
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending critical messages: %w", err)
	}
	return messages, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func putInterruptionExec(ctx context.Context, db execer, interruption domain.SessionInterruption) error {
	if strings.TrimSpace(interruption.ID) == "" {
		return fmt.Errorf("interruption id is required")
	}
	metadata, err := json.Marshal(interruption.Snapshot.Metadata)
	if err != nil {
		return fmt.Errorf("marshal snapshot metadata: %w", err)
	}
	var resumedAt any
	if interruption.ResumedAt != nil {
		resumedAt = toMillis(*interruption.ResumedAt)
	}
	_, err = db.ExecContext(ctx, `
INSERT INTO session_interruptions (
    id, participant_id, session_id, critical_message_id,
    snapshot_step, snapshot_progress, snapshot_taken_at, snapshot_metadata,
    reason, auto_resume, admin_override, interrupted_at, resumed_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		interruption.ID,
		interruption.ParticipantID,
		interruption.SessionID,
		interruption.CriticalMessageID,
		interruption.Snapshot.StepLabel,
		interruption.Snapshot.Progress,
		toMillis(interruption.Snapshot.TakenAt),
		string(metadata),
		string(interruption.Reason),
		boolToInt(interruption.AutoResume),
		boolToInt(interruption.AdminOverride),
		toMillis(interruption.InterruptedAt),
		resumedAt,
	)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return storage.ErrConflict
		}
		return fmt.Errorf("insert interruption: %w", err)
	}
	return nil
}

func closeInterruptionExec(ctx context.Context, db execer, id string, reason domain.InterruptionReason, resumedAt time.Time) error {
	_, err := db.ExecContext(ctx, `
UPDATE session_interruptions
SET resumed_at = ?, reason = ?
WHERE id = ? AND resumed_at IS NULL`,
		toMillis(resumedAt), string(reason), id)
	if err != nil {
		return fmt.Errorf("close interruption: %w", err)
	}
	return nil
}

func setSessionInterruptedExec(ctx context.Context, db execer, id, participantID string, interrupted bool, step, progress string, updatedAt time.Time) error {
	_, err := db.ExecContext(ctx, `
INSERT INTO sessions (id, participant_id, current_step, progress, interrupted, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    interrupted = excluded.interrupted,
    current_step = CASE WHEN excluded.current_step != '' THEN excluded.current_step ELSE sessions.current_step END,
    progress = CASE WHEN excluded.progress != '' THEN excluded.progress ELSE sessions.progress END,
    updated_at = excluded.updated_at`,
		id, participantID, step, progress, boolToInt(interrupted), toMillis(updatedAt))
	if err != nil {
		return fmt.Errorf("set session interrupted: %w", err)
	}
	return nil
}

// PutInterruption persists one session interruption row.
func (s *Store) PutInterruption(ctx context.Context, interruption domain.SessionInterruption) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return putInterruptionExec(ctx, s.sqlDB, interruption)
}

// OpenInterruption atomically closes the listed prior interruptions, inserts
// the new interruption, and marks its session interrupted. The session flag
// and the interruption set move together or not at all.
func (s *Store) OpenInterruption(ctx context.Context, interruption domain.SessionInterruption, closing []storage.ClosedInterruption) error {
	if err := s.ready(ctx); err != nil {
		return err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin interruption write: %w", err)
	}
	rollbackWith := func(cause error) error {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return fmt.Errorf("%w: rollback interruption write: %v", cause, rollbackErr)
		}
		return cause
	}

	for _, closed := range closing {
		if err := closeInterruptionExec(ctx, tx, closed.ID, closed.Reason, interruption.InterruptedAt); err != nil {
			return rollbackWith(err)
		}
	}
	if err := putInterruptionExec(ctx, tx, interruption); err != nil {
		return rollbackWith(err)
	}
	if err := setSessionInterruptedExec(ctx, tx, interruption.SessionID, interruption.ParticipantID, true,
		interruption.Snapshot.StepLabel, interruption.Snapshot.Progress, interruption.InterruptedAt); err != nil {
		return rollbackWith(err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit interruption write: %w", err)
	}
	return nil
}

// ResumeInterruption atomically stamps the resume timestamp and reason and
// clears the session's interrupted flag, restoring the snapshot's step and
// progress. Resuming an already-closed interruption is a no-op.
func (s *Store) ResumeInterruption(ctx context.Context, id string, reason domain.InterruptionReason, resumedAt time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin resume write: %w", err)
	}
	rollbackWith := func(cause error) error {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return fmt.Errorf("%w: rollback resume write: %v", cause, rollbackErr)
		}
		return cause
	}

	row := tx.QueryRowContext(ctx, `
SELECT session_id, participant_id, snapshot_step, snapshot_progress, resumed_at
FROM session_interruptions WHERE id = ?`, id)
	var sessionID, participantID, step, progress string
	var alreadyResumed sql.NullInt64
	if err := row.Scan(&sessionID, &participantID, &step, &progress, &alreadyResumed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rollbackWith(storage.ErrNotFound)
		}
		return rollbackWith(fmt.Errorf("load interruption for resume: %w", err))
	}
	if alreadyResumed.Valid {
		_ = tx.Rollback()
		return nil
	}

	if err := closeInterruptionExec(ctx, tx, id, reason, resumedAt); err != nil {
		return rollbackWith(err)
	}
	if err := setSessionInterruptedExec(ctx, tx, sessionID, participantID, false, step, progress, resumedAt); err != nil {
		return rollbackWith(err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit resume write: %w", err)
	}
	return nil
}

// GetInterruption loads one interruption by id.
func (s *Store) GetInterruption(ctx context.Context, id string) (domain.SessionInterruption, error) {
	if err := s.ready(ctx); err != nil {
		return domain.SessionInterruption{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, participant_id, session_id, critical_message_id,
       snapshot_step, snapshot_progress, snapshot_taken_at, snapshot_metadata,
       reason, auto_resume, admin_override, interrupted_at, resumed_at
FROM session_interruptions WHERE id = ?`, id)
	return scanInterruption(row)
}

// ActiveInterruptions returns unresumed interruptions for the participant,
// newest first.
func (s *Store) ActiveInterruptions(ctx context.Context, participantID string) ([]domain.SessionInterruption, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, participant_id, session_id, critical_message_id,
       snapshot_step, snapshot_progress, snapshot_taken_at, snapshot_metadata,
       reason, auto_resume, admin_override, interrupted_at, resumed_at
FROM session_interruptions
WHERE participant_id = ? AND resumed_at IS NULL
ORDER BY interrupted_at DESC`, participantID)
	if err != nil {
		return nil, fmt.Errorf("list active interruptions: %w", err)
	}
	defer rows.Close()

	var interruptions []domain.SessionInterruption
	for rows.Next() {
		interruption, err := scanInterruption(rows)
		if err != nil {
			return nil, err
		}
		interruptions = append(interruptions, interruption)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active interruptions: %w", err)
	}
	return interruptions, nil
}

// CloseInterruption sets the resume timestamp and closing reason. Closing an
// already-closed interruption is a no-op.
func (s *Store) CloseInterruption(ctx context.Context, id string, reason domain.InterruptionReason, resumedAt time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE session_interruptions
SET resumed_at = ?, reason = ?
WHERE id = ? AND resumed_at IS NULL`,
		toMillis(resumedAt), string(reason), id)
	if err != nil {
		return fmt.Errorf("close interruption: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("close interruption rows: %w", err)
	}
	if affected == 0 {
		// Either missing or already closed; only the former is an error.
		var exists int
		row := s.sqlDB.QueryRowContext(ctx, `SELECT 1 FROM session_interruptions WHERE id = ?`, id)
		if scanErr := row.Scan(&exists); scanErr != nil {
			if errors.Is(scanErr, sql.ErrNoRows) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("check interruption: %w", scanErr)
		}
	}
	return nil
}

// PutSession persists one session row.
func (s *Store) PutSession(ctx context.Context, session domain.Session) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(session.ID) == "" {
		return fmt.Errorf("session id is required")
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO sessions (id, participant_id, current_step, progress, interrupted, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    participant_id = excluded.participant_id,
    current_step = excluded.current_step,
    progress = excluded.progress,
    interrupted = excluded.interrupted,
    updated_at = excluded.updated_at`,
		session.ID,
		session.ParticipantID,
		session.CurrentStep,
		session.Progress,
		boolToInt(session.Interrupted),
		toMillis(session.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// GetSession loads one session by id.
func (s *Store) GetSession(ctx context.Context, id string) (domain.Session, error) {
	if err := s.ready(ctx); err != nil {
		return domain.Session{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, participant_id, current_step, progress, interrupted, updated_at
FROM sessions WHERE id = ?`, id)

	var session domain.Session
	var interrupted int
	var updatedAt int64
	err := row.Scan(&session.ID, &session.ParticipantID, &session.CurrentStep, &session.Progress, &interrupted, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Session{}, storage.ErrNotFound
		}
		return domain.Session{}, fmt.Errorf("scan session: %w", err)
	}
	session.Interrupted = interrupted == 1
	session.UpdatedAt = fromMillis(updatedAt)
	return session, nil
}

// SetSessionInterrupted flips the interrupted flag, creating the session row
// when it does not exist yet, and restores step and progress when provided.
func (s *Store) SetSessionInterrupted(ctx context.Context, id string, interrupted bool, step, progress string, updatedAt time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	session, err := s.GetSession(ctx, id)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		session = domain.Session{ID: id}
	}
	session.Interrupted = interrupted
	if step != "" {
		session.CurrentStep = step
	}
	if progress != "" {
		session.Progress = progress
	}
	session.UpdatedAt = updatedAt
	return s.PutSession(ctx, session)
}

// PutMessageType persists one message-type reference row.
func (s *Store) PutMessageType(ctx context.Context, messageType domain.MessageType) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(messageType.ID) == "" {
		return fmt.Errorf("message type id is required")
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO message_types (id, name, priority_level, default_timeout_seconds, auto_interrupt)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    name = excluded.name,
    priority_level = excluded.priority_level,
    default_timeout_seconds = excluded.default_timeout_seconds,
    auto_interrupt = excluded.auto_interrupt`,
		messageType.ID,
		messageType.Name,
		messageType.PriorityLevel,
		messageType.DefaultTimeoutSeconds,
		boolToInt(messageType.AutoInterrupt),
	)
	if err != nil {
		return fmt.Errorf("upsert message type: %w", err)
	}
	return nil
}

// GetMessageType loads one message type by id.
func (s *Store) GetMessageType(ctx context.Context, id string) (domain.MessageType, error) {
	if err := s.ready(ctx); err != nil {
		return domain.MessageType{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, name, priority_level, default_timeout_seconds, auto_interrupt
FROM message_types WHERE id = ?`, id)

	var messageType domain.MessageType
	var autoInterrupt int
	err := row.Scan(&messageType.ID, &messageType.Name, &messageType.PriorityLevel, &messageType.DefaultTimeoutSeconds, &autoInterrupt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.MessageType{}, storage.ErrNotFound
		}
		return domain.MessageType{}, fmt.Errorf("scan message type: %w", err)
	}
	messageType.AutoInterrupt = autoInterrupt == 1
	return messageType, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (domain.Message, error) {
	var message domain.Message
	var direction, keyword, status string
	var isCritical, responseRequired int
	var createdAt int64
	var respondedAt sql.NullInt64
	err := row.Scan(
		&message.ID,
		&message.ParticipantID,
		&message.SessionID,
		&direction,
		&message.Text,
		&isCritical,
		&keyword,
		&responseRequired,
		&status,
		&message.MessageTypeID,
		&message.ReplySeconds,
		&createdAt,
		&respondedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Message{}, storage.ErrNotFound
		}
		return domain.Message{}, fmt.Errorf("scan message: %w", err)
	}
	message.Direction = domain.MessageDirection(direction)
	message.CriticalKeyword = domain.Keyword(keyword)
	message.Status = domain.MessageStatus(status)
	message.IsCritical = isCritical == 1
	message.ResponseRequired = responseRequired == 1
	message.CreatedAt = fromMillis(createdAt)
	if respondedAt.Valid {
		resolved := fromMillis(respondedAt.Int64)
		message.RespondedAt = &resolved
	}
	return message, nil
}

func scanInterruption(row rowScanner) (domain.SessionInterruption, error) {
	var interruption domain.SessionInterruption
	var metadata, reason string
	var autoResume, adminOverride int
	var takenAt, interruptedAt int64
	var resumedAt sql.NullInt64
	err := row.Scan(
		&interruption.ID,
		&interruption.ParticipantID,
		&interruption.SessionID,
		&interruption.CriticalMessageID,
		&interruption.Snapshot.StepLabel,
		&interruption.Snapshot.Progress,
		&takenAt,
		&metadata,
		&reason,
		&autoResume,
		&adminOverride,
		&interruptedAt,
		&resumedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.SessionInterruption{}, storage.ErrNotFound
		}
		return domain.SessionInterruption{}, fmt.Errorf("scan interruption: %w", err)
	}
	interruption.Snapshot.SessionID = interruption.SessionID
	interruption.Snapshot.ParticipantID = interruption.ParticipantID
	interruption.Snapshot.TakenAt = fromMillis(takenAt)
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &interruption.Snapshot.Metadata); err != nil {
			return domain.SessionInterruption{}, fmt.Errorf("unmarshal snapshot metadata: %w", err)
		}
	}
	interruption.Reason = domain.InterruptionReason(reason)
	interruption.AutoResume = autoResume == 1
	interruption.AdminOverride = adminOverride == 1
	interruption.InterruptedAt = fromMillis(interruptedAt)
	if resumedAt.Valid {
		resolved := fromMillis(resumedAt.Int64)
		interruption.ResumedAt = &resolved
	}
	return interruption, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

var _ storage.MessageStore = (*Store)(nil)
var _ storage.InterruptionStore = (*Store)(nil)
var _ storage.SessionStore = (*Store)(nil)
var _ storage.MessageTypeStore = (*Store)(nil)
