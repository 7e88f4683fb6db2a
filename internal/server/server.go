// Package server hosts bridge sessions over HTTP.
//
// Endpoints:
//
//	GET /bridge  WebSocket upgrade; one terminal session per connection
//	GET /health  liveness probe, always "ok"
//	GET /status  JSON list of live sessions
//	GET /        static client files, if a static directory is configured
package server

import (
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	// gorilla/websocket is the most popular WebSocket library for Go.
	// It provides a complete implementation of the WebSocket protocol
	// with support for reading/writing messages, ping/pong, and close handling.
	"github.com/gorilla/websocket"

	"github.com/termbridge/host/internal/bridge"
)

// Config configures a Server.
type Config struct {
	// Addr is the address to listen on (e.g., "0.0.0.0:7777").
	Addr string

	// StaticDir is served at "/". Empty or missing disables static files.
	StaticDir string

	// Session is the template every bridge session is created from.
	Session bridge.Config

	// Logger receives server lifecycle lines. Nil discards them.
	Logger *log.Logger
}

// activeSession is a live session and its connection, tracked so Stop can
// end it and /status can report it.
type activeSession struct {
	session   *bridge.Session
	conn      *websocket.Conn
	remote    string
	startedAt time.Time
}

// Server accepts WebSocket connections and runs one bridge session for each.
type Server struct {
	// addr is the address to listen on.
	addr string

	staticDir  string
	sessionCfg bridge.Config
	logger     *log.Logger

	// upgrader converts HTTP connections to WebSocket connections.
	upgrader websocket.Upgrader

	httpServer *http.Server
	listener   net.Listener
	startedAt  time.Time

	// mu guards sessions and stopped.
	mu       sync.RWMutex
	sessions map[string]*activeSession
	stopped  bool

	// wg tracks running sessions so Stop can wait for their teardown.
	wg sync.WaitGroup
}

// New creates a server. Call StartAsync or StartAsyncTLS to listen.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	sessionCfg := cfg.Session
	if sessionCfg.Logger == nil {
		sessionCfg.Logger = logger
	}
	return &Server{
		addr:       cfg.Addr,
		staticDir:  cfg.StaticDir,
		sessionCfg: sessionCfg,
		logger:     logger,
		upgrader: websocket.Upgrader{
			// The bridge has no authentication; any origin may attach.
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			// Terminal output is forwarded in chunks of up to 4096 bytes.
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		sessions: make(map[string]*activeSession),
	}
}

// Addr returns the address the server is listening on, which differs from
// the configured one when the port was 0. Before Start it returns the
// configured address.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// SessionCount returns the number of live sessions.
func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Server) addSession(a *activeSession) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.sessions[a.session.ID] = a
	s.wg.Add(1)
	return true
}

func (s *Server) removeSession(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	s.wg.Done()
}
