package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/termbridge/host/internal/errors"
)

// Block is one command block a shell reported through its hook socket.
type Block struct {
	SessionID string    `json:"session_id"`
	BlockID   string    `json:"block_id"`
	OpenedAt  time.Time `json:"opened_at"`

	// ClosedAt is zero while the block is open, and omitted from JSON.
	ClosedAt time.Time `json:"-"`
}

// MarshalJSON writes closed_at only once the block has closed.
func (b Block) MarshalJSON() ([]byte, error) {
	type plain Block
	return json.Marshal(struct {
		plain
		ClosedAt *time.Time `json:"closed_at,omitempty"`
	}{plain(b), optionalTime(b.ClosedAt)})
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// OpenBlock records that a block opened. Opening a block implicitly closes
// whatever block was open before it, mirroring the bridge's single current
// block.
func (s *SQLiteStore) OpenBlock(sessionID, blockID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := formatTime(at)

	tx, err := s.db.Begin()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageSaveFailed, "begin block open", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`UPDATE blocks SET closed_at = ? WHERE session_id = ? AND closed_at IS NULL`,
		ts, sessionID,
	); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageSaveFailed, "close previous block", err)
	}

	if _, err := tx.Exec(
		`INSERT INTO blocks (session_id, block_id, opened_at) VALUES (?, ?, ?)`,
		sessionID, blockID, ts,
	); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageSaveFailed, "open block", err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageSaveFailed, "commit block open", err)
	}
	return nil
}

// CloseBlock records that the open block ended. blockID is informational:
// a close event always ends the session's current block.
func (s *SQLiteStore) CloseBlock(sessionID, blockID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`UPDATE blocks SET closed_at = ? WHERE session_id = ? AND closed_at IS NULL`,
		formatTime(at), sessionID,
	)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageSaveFailed, fmt.Sprintf("close block %s", blockID), err)
	}
	return nil
}

// ListBlocks returns a session's blocks in the order they opened.
func (s *SQLiteStore) ListBlocks(sessionID string) ([]*Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT session_id, block_id, opened_at, closed_at FROM blocks WHERE session_id = ? ORDER BY seq`,
		sessionID,
	)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "list blocks", err)
	}
	defer rows.Close()

	blocks := make([]*Block, 0)
	for rows.Next() {
		var (
			b        Block
			openedAt string
			closedAt sql.NullString
		)
		if err := rows.Scan(&b.SessionID, &b.BlockID, &openedAt, &closedAt); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "scan block", err)
		}
		if b.OpenedAt, err = time.Parse(time.RFC3339Nano, openedAt); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "parse opened_at", err)
		}
		if closedAt.Valid {
			if b.ClosedAt, err = time.Parse(time.RFC3339Nano, closedAt.String); err != nil {
				return nil, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "parse closed_at", err)
			}
		}
		blocks = append(blocks, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "iterate block rows", err)
	}
	return blocks, nil
}
