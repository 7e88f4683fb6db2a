package storage

// sessions.go contains SQLiteStore methods for session history.
// A row is written when a bridge session starts and completed when it ends.

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	apperrors "github.com/termbridge/host/internal/errors"
)

// maxSessions is the maximum number of sessions to retain.
// Older sessions (and their blocks) are deleted when this limit is exceeded.
const maxSessions = 50

// EndReasonInterrupted marks sessions that were still open when the store
// was reopened, i.e. the bridge died without recording an end.
const EndReasonInterrupted = "interrupted"

// Session is one bridged terminal session.
type Session struct {
	// ID is the session's UUID.
	ID string `json:"id"`

	// Shell is the binary the PTY ran.
	Shell string `json:"shell"`

	// HookPath is the datagram socket exported as BRIDGE_SOCK.
	HookPath string `json:"hook_path"`

	// Pid is the shell's process ID.
	Pid int `json:"pid"`

	StartedAt time.Time `json:"started_at"`

	// EndedAt is zero while the session is live, and omitted from JSON.
	EndedAt time.Time `json:"-"`

	// EndReason says which side ended the session (shell_exited,
	// client_closed, hook_closed, interrupted).
	EndReason string `json:"end_reason,omitempty"`
}

// MarshalJSON writes ended_at only once the session has ended.
func (s Session) MarshalJSON() ([]byte, error) {
	type plain Session
	return json.Marshal(struct {
		plain
		EndedAt *time.Time `json:"ended_at,omitempty"`
	}{plain(s), optionalTime(s.EndedAt)})
}

// Live reports whether the session has not ended yet.
func (s *Session) Live() bool {
	return s.EndedAt.IsZero()
}

// SaveSession inserts or updates a session.
// Enforces retention: keeps only the most recent maxSessions sessions.
func (s *SQLiteStore) SaveSession(session *Session) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log.Printf("storage: saving session %s (shell=%s)", session.ID, session.Shell)

	var endedAt sql.NullString
	if !session.EndedAt.IsZero() {
		endedAt = sql.NullString{String: formatTime(session.EndedAt), Valid: true}
	}

	// An upsert rather than INSERT OR REPLACE: REPLACE deletes the old row,
	// which would cascade to the session's blocks.
	const query = `
		INSERT INTO sessions
			(id, shell, hook_path, pid, started_at, ended_at, end_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			shell = excluded.shell,
			hook_path = excluded.hook_path,
			pid = excluded.pid,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			end_reason = excluded.end_reason
	`

	_, err := s.db.Exec(query,
		session.ID,
		session.Shell,
		session.HookPath,
		session.Pid,
		formatTime(session.StartedAt),
		endedAt,
		session.EndReason,
	)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageSaveFailed, "save session", err)
	}

	// Enforce retention: delete oldest sessions beyond limit.
	const cleanupQuery = `
		DELETE FROM sessions WHERE id IN (
			SELECT id FROM sessions ORDER BY started_at DESC LIMIT -1 OFFSET ?
		)
	`
	if _, err := s.db.Exec(cleanupQuery, maxSessions); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageSaveFailed, "enforce session retention", err)
	}

	return nil
}

// EndSession records when and why a session ended.
// Returns ErrSessionNotFound if the session is unknown.
func (s *SQLiteStore) EndSession(id string, endedAt time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const query = `UPDATE sessions SET ended_at = ?, end_reason = ? WHERE id = ?`
	res, err := s.db.Exec(query, formatTime(endedAt), reason, id)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageSaveFailed, "end session", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}

	// Blocks left open by the shell end with the session.
	const closeBlocks = `UPDATE blocks SET closed_at = ? WHERE session_id = ? AND closed_at IS NULL`
	if _, err := s.db.Exec(closeBlocks, formatTime(endedAt), id); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageSaveFailed, "close open blocks", err)
	}
	return nil
}

// MarkInterrupted ends every session that is still recorded as live. It is
// called at startup, before any session runs, so such rows belong to a
// bridge that exited without cleaning up. Returns the number of sessions
// updated.
func (s *SQLiteStore) MarkInterrupted(at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := formatTime(at)
	res, err := s.db.Exec(
		`UPDATE sessions SET ended_at = ?, end_reason = ? WHERE ended_at IS NULL`,
		ts, EndReasonInterrupted,
	)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeStorageSaveFailed, "mark interrupted sessions", err)
	}
	n, _ := res.RowsAffected()

	if _, err := s.db.Exec(`UPDATE blocks SET closed_at = ? WHERE closed_at IS NULL`, ts); err != nil {
		return int(n), apperrors.Wrap(apperrors.CodeStorageSaveFailed, "close interrupted blocks", err)
	}
	if n > 0 {
		log.Printf("storage: marked %d sessions as interrupted", n)
	}
	return int(n), nil
}

// GetSession retrieves a session by ID.
// Returns nil, nil if the session does not exist.
func (s *SQLiteStore) GetSession(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const query = `
		SELECT id, shell, hook_path, pid, started_at, ended_at, end_reason
		FROM sessions
		WHERE id = ?
	`

	session, err := scanSession(s.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "get session", err)
	}

	return session, nil
}

// ListSessions returns recent sessions ordered by started_at (newest first).
// The limit parameter controls how many sessions to return (0 = default limit).
func (s *SQLiteStore) ListSessions(limit int) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = maxSessions
	}

	const query = `
		SELECT id, shell, hook_path, pid, started_at, ended_at, end_reason
		FROM sessions
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "list sessions", err)
	}
	defer rows.Close()

	sessions := make([]*Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "scan session", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "iterate session rows", err)
	}

	return sessions, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		session   Session
		startedAt string
		endedAt   sql.NullString
	)

	err := row.Scan(
		&session.ID,
		&session.Shell,
		&session.HookPath,
		&session.Pid,
		&startedAt,
		&endedAt,
		&session.EndReason,
	)
	if err != nil {
		return nil, err
	}

	t, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	session.StartedAt = t

	if endedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, endedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse ended_at: %w", err)
		}
		session.EndedAt = t
	}

	return &session, nil
}
