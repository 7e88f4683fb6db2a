package server

import (
	"time"

	"github.com/termbridge/host/internal/bridge"
	"github.com/termbridge/host/internal/storage"
)

// HistoryRecorder adapts SQLiteStore to the bridge.Recorder interface.
// The bridge package does not import storage, so the conversion between
// bridge.SessionInfo and storage.Session lives here.
type HistoryRecorder struct {
	store *storage.SQLiteStore
}

// NewHistoryRecorder creates a recorder that persists to the given store.
func NewHistoryRecorder(store *storage.SQLiteStore) *HistoryRecorder {
	return &HistoryRecorder{store: store}
}

// SessionStarted inserts the session row.
func (h *HistoryRecorder) SessionStarted(info bridge.SessionInfo) error {
	return h.store.SaveSession(&storage.Session{
		ID:        info.ID,
		Shell:     info.Shell,
		HookPath:  info.HookPath,
		Pid:       info.Pid,
		StartedAt: info.StartedAt,
	})
}

// SessionEnded stamps the end time and reason, closing any open block.
func (h *HistoryRecorder) SessionEnded(id string, endedAt time.Time, reason string) error {
	return h.store.EndSession(id, endedAt, reason)
}

func (h *HistoryRecorder) BlockOpened(sessionID, blockID string, at time.Time) error {
	return h.store.OpenBlock(sessionID, blockID, at)
}

func (h *HistoryRecorder) BlockClosed(sessionID, blockID string, at time.Time) error {
	return h.store.CloseBlock(sessionID, blockID, at)
}

var _ bridge.Recorder = (*HistoryRecorder)(nil)
