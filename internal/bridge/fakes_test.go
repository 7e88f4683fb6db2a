package bridge

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var errFakeClosed = errors.New("fake transport closed")

type frame struct {
	typ  int
	data []byte
}

// fakeConn is an in-memory Conn. Outbound frames are recorded; inbound
// frames are fed through the in channel.
type fakeConn struct {
	mu     sync.Mutex
	sent   []frame
	closes int

	// failBinary makes every binary write fail.
	failBinary bool

	in        chan frame
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan frame, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case f := <-c.in:
		return f.typ, f.data, nil
	case <-c.closed:
		return 0, nil, errFakeClosed
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closed:
		return errFakeClosed
	default:
	}
	if c.failBinary && messageType == websocket.BinaryMessage {
		return errFakeClosed
	}
	c.sent = append(c.sent, frame{typ: messageType, data: append([]byte(nil), data...)})
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) frames() []frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]frame(nil), c.sent...)
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// texts returns the payloads of every text frame sent so far.
func (c *fakeConn) texts() []string {
	var out []string
	for _, f := range c.frames() {
		if f.typ == websocket.TextMessage {
			out = append(out, string(f.data))
		}
	}
	return out
}

// binaries returns the payloads of every binary frame sent so far.
func (c *fakeConn) binaries() [][]byte {
	var out [][]byte
	for _, f := range c.frames() {
		if f.typ == websocket.BinaryMessage {
			out = append(out, f.data)
		}
	}
	return out
}

// waitFor polls until cond holds or fails the test after timeout.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func containsText(texts []string, want string) bool {
	for _, s := range texts {
		if s == want {
			return true
		}
	}
	return false
}

func joinBinaries(chunks [][]byte) string {
	var b strings.Builder
	for _, c := range chunks {
		b.Write(c)
	}
	return b.String()
}

// fakeTerminal records what the input router does to the PTY.
type fakeTerminal struct {
	mu      sync.Mutex
	writes  [][]byte
	resizes [][2]int
}

func (f *fakeTerminal) Write(p []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, append([]byte(nil), p...))
}

func (f *fakeTerminal) Resize(cols, rows int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resizes = append(f.resizes, [2]int{cols, rows})
}

// fakeHook replays a fixed list of payloads then reports closed.
type fakeHook struct {
	payloads [][]byte
}

func (h *fakeHook) Recv() ([]byte, error) {
	if len(h.payloads) == 0 {
		return nil, errFakeClosed
	}
	p := h.payloads[0]
	h.payloads = h.payloads[1:]
	return p, nil
}

func newTestRouter(conn Conn) *outputRouter {
	return &outputRouter{
		out:   newLockedSender(conn),
		block: &BlockState{},
	}
}
