// Package bridge runs one terminal session over a WebSocket.
//
// A session owns a PTY running the user's shell, a hook endpoint the shell
// reports command blocks to, and the client transport. Five goroutines do
// the work:
//
//	byte relay    PTY read      -> chunk queue
//	event relay   hook recv     -> event queue
//	byte consumer chunk queue   -> binary frames, alt_screen, block_chunk
//	event consumer event queue  -> block state, forwarded hook events
//	input router  client frames -> PTY write / resize
//
// The first consumer to finish tears the session down. Teardown closes the
// transport, kills the shell and removes the hook endpoint, which in turn
// unblocks every remaining goroutine.
package bridge

import (
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/termbridge/host/internal/ipc"
	"github.com/termbridge/host/internal/pty"
)

// End reasons recorded for a session, named after the consumer that
// finished first.
const (
	EndReasonShellExited  = "shell_exited"
	EndReasonClientClosed = "client_closed"
	EndReasonHookClosed   = "hook_closed"
)

// SessionInfo describes a session that has started.
type SessionInfo struct {
	ID        string
	Shell     string
	HookPath  string
	Pid       int
	StartedAt time.Time
}

// Recorder receives session and block lifecycle events, typically to keep a
// history. Errors are logged and never affect the live session.
type Recorder interface {
	SessionStarted(info SessionInfo) error
	SessionEnded(id string, endedAt time.Time, reason string) error
	BlockOpened(sessionID, blockID string, at time.Time) error
	BlockClosed(sessionID, blockID string, at time.Time) error
}

// Config controls how a session spawns its shell.
type Config struct {
	Shell string   // Shell binary; see pty.ResolveShell
	Args  []string // Extra shell arguments
	Env   []string // Base environment; nil means os.Environ()
	Dir   string   // Working directory for the shell

	Rows int // Initial rows (pty.DefaultRows if <= 0)
	Cols int // Initial columns (pty.DefaultCols if <= 0)

	// SocketDir is where hook endpoints are created. Empty means os.TempDir().
	SocketDir string

	// Recorder, if set, is told about session and block transitions.
	Recorder Recorder

	// Logger receives lifecycle lines. Nil discards them.
	Logger *log.Logger

	// Debug enables per-message tracing.
	Debug bool
}

// Session is one bridged terminal. Create it with New and call Run.
type Session struct {
	// ID is a UUID used in logs and history.
	ID string

	cfg    Config
	conn   Conn
	out    *lockedSender
	logger *log.Logger

	term  *pty.Handle
	hook  *ipc.HookListener
	block BlockState

	// ready is closed once setup has finished, successfully or not.
	ready chan struct{}

	teardownOnce sync.Once
	endReason    string

	wg sync.WaitGroup
}

// New prepares a session over conn. Nothing is spawned until Run.
func New(conn Conn, cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Session{
		ID:     uuid.NewString(),
		cfg:    cfg,
		conn:   conn,
		out:    newLockedSender(conn),
		logger: logger,
		ready:  make(chan struct{}),
	}
}

// Ready is closed when Run has finished setup, whether or not it succeeded.
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

// HookPath returns the session's hook endpoint. It is only meaningful after
// Ready is closed, and is "" if setup failed.
func (s *Session) HookPath() string {
	return s.hook.Path()
}

// Pid returns the shell's process ID once Ready is closed, or 0.
func (s *Session) Pid() int {
	if s.term == nil {
		return 0
	}
	return s.term.Pid()
}

// Run spawns the shell and bridges it to the transport until one side goes
// away. It returns an error only if setup fails, in which case the
// transport is closed and no goroutines are left running. Run blocks until
// every session goroutine has exited and the shell has been reaped.
func (s *Session) Run() error {
	defer s.markReady()

	hookPath := ipc.NewHookPath(s.cfg.SocketDir, s.ID)
	hook, err := ipc.BindHook(hookPath, s.logger)
	if err != nil {
		s.logger.Printf("bridge: [%s] setup failed: %v", s.ID, err)
		s.out.close()
		return err
	}
	s.hook = hook

	base := s.cfg.Env
	if base == nil {
		base = os.Environ()
	}
	term, err := pty.Open(pty.Options{
		Command: s.cfg.Shell,
		Args:    s.cfg.Args,
		Env:     pty.ChildEnv(base, hookPath),
		Dir:     s.cfg.Dir,
		Rows:    s.cfg.Rows,
		Cols:    s.cfg.Cols,
		Logger:  s.logger,
	})
	if err != nil {
		s.logger.Printf("bridge: [%s] setup failed: %v", s.ID, err)
		hook.Close()
		s.out.close()
		return err
	}
	s.term = term

	started := time.Now()
	s.logger.Printf("bridge: [%s] started %s pid=%d hook=%s", s.ID, s.cfg.Shell, term.Pid(), hookPath)
	s.record(func(r Recorder) error {
		return r.SessionStarted(SessionInfo{
			ID:        s.ID,
			Shell:     s.cfg.Shell,
			HookPath:  hookPath,
			Pid:       term.Pid(),
			StartedAt: started,
		})
	})

	chunks := newQueue[[]byte]()
	events := newQueue[string]()

	router := &outputRouter{
		out:     s.out,
		block:   &s.block,
		onBlock: s.recordBlock,
		logger:  s.logger,
		debug:   s.cfg.Debug,
	}
	input := &inputRouter{term: term, logger: s.logger, debug: s.cfg.Debug}

	s.markReady()

	s.wg.Add(5)
	go func() {
		defer s.wg.Done()
		relayBytes(term, chunks)
	}()
	go func() {
		defer s.wg.Done()
		relayEvents(hook, events)
	}()
	go func() {
		defer s.wg.Done()
		router.drainChunks(chunks)
		s.teardown(EndReasonShellExited)
	}()
	go func() {
		defer s.wg.Done()
		router.drainEvents(events)
		s.teardown(EndReasonHookClosed)
	}()
	go func() {
		defer s.wg.Done()
		input.run(s.conn)
		s.teardown(EndReasonClientClosed)
	}()

	s.wg.Wait()
	waitErr := term.Wait()

	ended := time.Now()
	s.logger.Printf("bridge: [%s] ended (%s) after %s, shell: %v",
		s.ID, s.endReason, ended.Sub(started).Round(time.Millisecond), exitStatus(waitErr))
	s.record(func(r Recorder) error {
		return r.SessionEnded(s.ID, ended, s.endReason)
	})
	return nil
}

// teardown runs once, from whichever consumer finishes first. Every step is
// idempotent and unblocks one of the remaining goroutines: closing the
// transport ends the input router, killing the shell ends the byte relay,
// and closing the hook ends the event relay.
func (s *Session) teardown(reason string) {
	s.teardownOnce.Do(func() {
		s.endReason = reason
		if s.cfg.Debug {
			s.logger.Printf("bridge: [%s] teardown: %s", s.ID, reason)
		}
		s.out.close()
		if err := s.term.Kill(); err != nil {
			s.logger.Printf("bridge: [%s] %v", s.ID, err)
		}
		s.hook.Close()
	})
}

func (s *Session) markReady() {
	select {
	case <-s.ready:
	default:
		close(s.ready)
	}
}

func (s *Session) recordBlock(id string, opened bool) {
	now := time.Now()
	if s.cfg.Debug {
		s.logger.Printf("bridge: [%s] block %s opened=%t", s.ID, id, opened)
	}
	s.record(func(r Recorder) error {
		if opened {
			return r.BlockOpened(s.ID, id, now)
		}
		return r.BlockClosed(s.ID, id, now)
	})
}

func (s *Session) record(fn func(Recorder) error) {
	if s.cfg.Recorder == nil {
		return
	}
	if err := fn(s.cfg.Recorder); err != nil {
		s.logger.Printf("bridge: [%s] history: %v", s.ID, err)
	}
}

func exitStatus(err error) string {
	if err == nil {
		return "exit 0"
	}
	return err.Error()
}
