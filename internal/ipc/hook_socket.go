// Package ipc provides the local hook channel between a bridged shell and
// the bridge. The shell (or a helper it runs) sends JSON datagrams to a Unix
// datagram socket whose path it learns from BRIDGE_SOCK.
//
// The socket lives in a 0700 directory and is itself 0600, so only the user
// running the bridge can emit hook events.
package ipc

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/termbridge/host/internal/errors"
)

// MaxDatagramSize is the largest hook payload delivered intact. Longer
// datagrams are truncated by the kernel.
const MaxDatagramSize = 8192

// ErrHookClosed is returned by Recv once the listener has been closed.
var ErrHookClosed = apperrors.New(apperrors.CodeHookClosed, "hook endpoint closed")

// hookSeq tags paths for callers that have no session id.
var hookSeq atomic.Uint64

// NewHookPath returns a session-unique socket path of the form
// <dir>/bridge-<pid>-<unixmillis>-<id8>.sock, where id8 is the first eight
// characters of sessionID. Sessions accepted in the same millisecond differ
// by id. An empty dir means os.TempDir().
func NewHookPath(dir, sessionID string) string {
	if dir == "" {
		dir = os.TempDir()
	}
	tag := strings.ReplaceAll(sessionID, "-", "")
	if len(tag) > 8 {
		tag = tag[:8]
	}
	if tag == "" {
		tag = fmt.Sprintf("s%d", hookSeq.Add(1))
	}
	name := fmt.Sprintf("bridge-%d-%d-%s.sock", os.Getpid(), time.Now().UnixMilli(), tag)
	return filepath.Join(dir, name)
}

// HookListener receives hook datagrams on a Unix socket.
type HookListener struct {
	// path is the filesystem location of the socket.
	path string

	// conn is the bound datagram socket.
	conn *net.UnixConn

	// logger emits cleanup problems.
	logger *log.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// BindHook creates the hook endpoint at path. It fails if a live process is
// already bound there, but removes a stale socket file left by a crashed
// bridge. If logger is nil, logs are discarded.
func BindHook(path string, logger *log.Logger) (*HookListener, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if path == "" {
		return nil, apperrors.HookBindFailed(path, fmt.Errorf("socket path is empty"))
	}
	if err := validateHookPath(path); err != nil {
		return nil, apperrors.HookBindFailed(path, err)
	}
	if err := prepareSocketDir(path); err != nil {
		return nil, apperrors.HookBindFailed(path, err)
	}
	if err := ensureSocketAvailable(path); err != nil {
		return nil, err
	}

	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		return nil, apperrors.HookBindFailed(path, err)
	}

	if err := os.Chmod(path, 0600); err != nil {
		conn.Close()
		_ = os.Remove(path)
		return nil, apperrors.HookBindFailed(path, fmt.Errorf("set socket permissions: %w", err))
	}

	return &HookListener{
		path:   path,
		conn:   conn,
		logger: logger,
		closed: make(chan struct{}),
	}, nil
}

// Path returns the socket path exported to the child as BRIDGE_SOCK.
func (l *HookListener) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Recv blocks until the next non-empty datagram arrives and returns a copy
// of its payload. Zero-length datagrams are skipped. After Close, Recv
// returns ErrHookClosed.
func (l *HookListener) Recv() ([]byte, error) {
	buf := make([]byte, MaxDatagramSize)
	for {
		n, _, err := l.conn.ReadFromUnix(buf)
		if err != nil {
			select {
			case <-l.closed:
				return nil, ErrHookClosed
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil, ErrHookClosed
			}
			return nil, apperrors.Wrap(apperrors.CodeHookClosed, "hook receive failed", err)
		}
		if n == 0 {
			continue
		}
		out := make([]byte, n)
		copy(out, buf[:n])
		return out, nil
	}
}

// Close closes the socket and removes the socket file. It is safe to call
// more than once and on a nil listener.
func (l *HookListener) Close() error {
	if l == nil {
		return nil
	}
	var closeErr error
	l.closeOnce.Do(func() {
		close(l.closed)
		if l.conn != nil {
			_ = l.conn.Close()
		}
		// Datagram sockets are not unlinked on close, so the file is always
		// removed here.
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			l.logger.Printf("hook: failed to remove %s: %v", l.path, err)
			closeErr = fmt.Errorf("failed to remove hook socket: %w", err)
		}
	})
	return closeErr
}

// SendHookEvent delivers one datagram to the hook endpoint at path.
func SendHookEvent(path string, payload []byte) error {
	if path == "" {
		return apperrors.New(apperrors.CodeHookSendFailed, "hook socket path is empty")
	}
	if len(payload) > MaxDatagramSize {
		return apperrors.New(apperrors.CodeHookSendFailed,
			fmt.Sprintf("payload of %d bytes exceeds %d", len(payload), MaxDatagramSize))
	}
	conn, err := net.DialTimeout("unixgram", path, 200*time.Millisecond)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeHookSendFailed, "failed to reach hook socket", err)
	}
	defer conn.Close()

	if _, err := conn.Write(payload); err != nil {
		return apperrors.Wrap(apperrors.CodeHookSendFailed, "failed to send hook event", err)
	}
	return nil
}

func prepareSocketDir(path string) error {
	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("hook socket parent is not a directory: %s", dir)
		}
		// Shared directories like /tmp keep their own permissions; the
		// socket's 0600 mode is what protects it there.
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat hook socket directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create hook socket directory: %w", err)
	}
	if err := os.Chmod(dir, 0700); err != nil {
		return fmt.Errorf("failed to set hook socket directory permissions: %w", err)
	}
	return nil
}

func ensureSocketAvailable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apperrors.HookBindFailed(path, fmt.Errorf("stat: %w", err))
	}

	if info.Mode()&os.ModeSocket == 0 {
		return apperrors.HookBindFailed(path, fmt.Errorf("path exists and is not a socket"))
	}

	conn, err := net.DialTimeout("unixgram", path, 200*time.Millisecond)
	if err == nil {
		_ = conn.Close()
		return apperrors.HookInUse(path)
	}
	if errors.Is(err, os.ErrPermission) {
		return apperrors.HookBindFailed(path, fmt.Errorf("permission denied: %w", err))
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return apperrors.HookBindFailed(path, fmt.Errorf("remove stale socket: %w", err))
	}
	return nil
}
