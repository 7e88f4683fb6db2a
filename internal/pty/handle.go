// Package pty owns the pseudo-terminal side of a bridge session.
//
// A PTY (pseudo-terminal) is a pair of virtual devices: a "master" (ptmx) and
// a "slave" (pts). The shell runs attached to the slave, thinking it's a real
// terminal, while the bridge reads and writes the master.
package pty

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"golang.org/x/time/rate"

	apperrors "github.com/termbridge/host/internal/errors"
)

// Default terminal size applied when Options leaves it unset.
const (
	DefaultRows = 40
	DefaultCols = 120
)

// Options describes the child process to run inside the PTY.
type Options struct {
	Command string   // Shell binary (see ResolveShell)
	Args    []string // Extra arguments, usually none
	Env     []string // Full environment for the child; nil means os.Environ()
	Dir     string   // Working directory; empty means the current directory
	Rows    int      // Initial rows (DefaultRows if <= 0)
	Cols    int      // Initial columns (DefaultCols if <= 0)

	// Logger receives best-effort failure reports. Nil discards them.
	Logger *log.Logger
}

// Handle is the master side of a PTY pair plus the child it controls.
//
// Read, Write and Resize may be called concurrently from different
// goroutines. The bridge keeps exactly one reader (the byte relay) and one
// writer (the input router) per handle.
type Handle struct {
	cmd  *exec.Cmd
	ptmx *os.File

	logger *log.Logger

	// mu guards rows/cols.
	mu   sync.Mutex
	rows int
	cols int

	killOnce sync.Once
	waitOnce sync.Once
	waitErr  error

	// writeFailures and resizeFailures throttle the logs for swallowed
	// errors so a dead terminal doesn't flood the output.
	writeFailures  rate.Sometimes
	resizeFailures rate.Sometimes
}

// Open creates a PTY, starts opts.Command on its slave side and returns the
// master handle. It fails with a session.spawn_failed error if either the
// terminal device or the child cannot be created.
func Open(opts Options) (*Handle, error) {
	if opts.Command == "" {
		return nil, apperrors.SpawnFailed("<empty>", fmt.Errorf("no shell command configured"))
	}

	rows, cols := opts.Rows, opts.Cols
	if rows <= 0 {
		rows = DefaultRows
	}
	if cols <= 0 {
		cols = DefaultCols
	}

	cmd := exec.Command(opts.Command, opts.Args...)
	cmd.Env = opts.Env
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Dir = opts.Dir

	// StartWithSize creates the master/slave pair, wires the child's stdio to
	// the slave, makes it the controlling terminal and starts the command.
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
	if err != nil {
		return nil, apperrors.SpawnFailed(opts.Command, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	return &Handle{
		cmd:            cmd,
		ptmx:           ptmx,
		logger:         logger,
		rows:           rows,
		cols:           cols,
		writeFailures:  rate.Sometimes{First: 1, Interval: 10 * time.Second},
		resizeFailures: rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}, nil
}

// Read reads the next chunk of terminal output.
//
// A zero-length read, EOF, and any I/O error (EIO once the slave side is
// gone, or "file already closed" after Kill) are all reported as io.EOF, so
// callers only have to handle a single exhaustion sentinel.
func (h *Handle) Read(p []byte) (int, error) {
	n, _ := h.ptmx.Read(p)
	if n > 0 {
		return n, nil
	}
	return 0, io.EOF
}

// Write sends keystrokes to the child. It is best-effort: failures are
// swallowed (a dropped keystroke is preferable to a killed session) and only
// logged occasionally. The master fd is unbuffered, so every write reaches
// the terminal immediately.
func (h *Handle) Write(p []byte) {
	if len(p) == 0 {
		return
	}
	if _, err := h.ptmx.Write(p); err != nil {
		h.writeFailures.Do(func() {
			h.logger.Printf("pty: write dropped (%d bytes): %v", len(p), err)
		})
	}
}

// Resize changes the terminal dimensions and signals SIGWINCH to the
// foreground process group. It is idempotent and best-effort: invalid sizes
// and device errors are logged and otherwise ignored.
func (h *Handle) Resize(cols, rows int) {
	if cols <= 0 || rows <= 0 || cols > 0xFFFF || rows > 0xFFFF {
		h.resizeFailures.Do(func() {
			h.logger.Printf("pty: ignoring invalid size cols=%d rows=%d", cols, rows)
		})
		return
	}

	err := pty.Setsize(h.ptmx, &pty.Winsize{
		Cols: uint16(cols),
		Rows: uint16(rows),
	})
	if err != nil {
		h.resizeFailures.Do(func() {
			h.logger.Printf("pty: resize to %dx%d failed: %v", cols, rows, err)
		})
		return
	}

	h.mu.Lock()
	h.cols, h.rows = cols, rows
	h.mu.Unlock()
}

// Size returns the last successfully applied terminal size.
func (h *Handle) Size() (cols, rows int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cols, h.rows
}

// Pid returns the child's process ID.
func (h *Handle) Pid() int {
	if h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Kill force-terminates the child and closes the master. Only the first call
// has any effect; later calls return nil. Closing the master unblocks any
// pending Read, which then reports io.EOF.
func (h *Handle) Kill() error {
	var err error
	h.killOnce.Do(func() {
		if h.cmd != nil && h.cmd.Process != nil {
			// SIGKILL cannot be caught, so the shell and anything it left in
			// the foreground go away even if they ignore SIGHUP.
			if kerr := h.cmd.Process.Kill(); kerr != nil && kerr != os.ErrProcessDone {
				err = fmt.Errorf("kill shell: %w", kerr)
			}
		}
		if h.ptmx != nil {
			h.ptmx.Close()
		}
	})
	return err
}

// Wait reaps the child and returns its exit error, if any. Safe to call more
// than once.
func (h *Handle) Wait() error {
	h.waitOnce.Do(func() {
		if h.cmd != nil && h.cmd.Process != nil {
			h.waitErr = h.cmd.Wait()
		}
	})
	return h.waitErr
}
