package server

import (
	"encoding/json"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/termbridge/host/internal/bridge"
	apperrors "github.com/termbridge/host/internal/errors"
)

// createMux creates the HTTP mux with all endpoints.
func (s *Server) createMux() *http.ServeMux {
	mux := http.NewServeMux()

	// One bridge session per WebSocket connection.
	mux.HandleFunc("/bridge", s.handleBridge)

	// Health check endpoint for monitoring
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/status", s.handleStatus)

	if s.staticDir != "" {
		if info, err := os.Stat(s.staticDir); err == nil && info.IsDir() {
			mux.Handle("/", http.FileServer(http.Dir(s.staticDir)))
			s.logger.Printf("server: serving static files from %s", s.staticDir)
		} else {
			s.logger.Printf("server: static directory %s not found, static files disabled", s.staticDir)
		}
	}

	return mux
}

// handleBridge upgrades the connection and runs a session on it until the
// session ends. The handler goroutine is the session's owner.
func (s *Server) handleBridge(w http.ResponseWriter, r *http.Request) {
	// Upgrade the HTTP connection to a WebSocket connection.
	// This performs the WebSocket handshake (HTTP 101 Switching Protocols).
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		s.logger.Printf("server: %v", apperrors.UpgradeFailed(err))
		return
	}

	session := bridge.New(bridge.NewWebSocketConn(conn), s.sessionCfg)
	active := &activeSession{
		session:   session,
		conn:      conn,
		remote:    r.RemoteAddr,
		startedAt: time.Now(),
	}
	if !s.addSession(active) {
		conn.Close()
		return
	}
	defer s.removeSession(session.ID)

	s.logger.Printf("server: client %s attached as session %s", r.RemoteAddr, session.ID)

	if err := session.Run(); err != nil {
		s.logger.Printf("server: session %s setup failed [%s]: %s",
			session.ID, apperrors.GetCode(err), apperrors.GetMessage(err))
		return
	}

	s.logger.Printf("server: client %s detached (session %s)", r.RemoteAddr, session.ID)
}

// SessionStatus is one entry of the /status response.
type SessionStatus struct {
	ID        string    `json:"id"`
	Pid       int       `json:"pid"`
	HookPath  string    `json:"hook_path"`
	Remote    string    `json:"remote"`
	StartedAt time.Time `json:"started_at"`
}

// StatusResponse is the /status response body.
type StatusResponse struct {
	UptimeSeconds int64           `json:"uptime_seconds"`
	Sessions      []SessionStatus `json:"sessions"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	resp := StatusResponse{
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Sessions:      make([]SessionStatus, 0, len(s.sessions)),
	}
	for _, a := range s.sessions {
		st := SessionStatus{
			ID:        a.session.ID,
			Remote:    a.remote,
			StartedAt: a.startedAt,
		}
		// Pid and hook path exist only once setup has finished.
		select {
		case <-a.session.Ready():
			st.Pid = a.session.Pid()
			st.HookPath = a.session.HookPath()
		default:
		}
		resp.Sessions = append(resp.Sessions, st)
	}
	s.mu.RUnlock()

	sort.Slice(resp.Sessions, func(i, j int) bool {
		return resp.Sessions[i].StartedAt.Before(resp.Sessions[j].StartedAt)
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
