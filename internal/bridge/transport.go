package bridge

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// writeWait bounds a single outbound frame so a stalled client can't hold
// the send lock forever.
const writeWait = 10 * time.Second

// Conn is the duplex message stream a session runs over. Message types are
// the gorilla/websocket constants (BinaryMessage, TextMessage,
// CloseMessage). *websocket.Conn satisfies it; tests use an in-memory fake.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// wsConn applies a write deadline to every frame written to a WebSocket.
type wsConn struct {
	*websocket.Conn
}

// NewWebSocketConn adapts an upgraded WebSocket connection for a session.
func NewWebSocketConn(conn *websocket.Conn) Conn {
	return wsConn{Conn: conn}
}

func (c wsConn) WriteMessage(messageType int, data []byte) error {
	c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Conn.WriteMessage(messageType, data)
}

// lockedSender serializes writes from the byte and event consumers onto one
// transport. The lock is held for exactly one frame.
type lockedSender struct {
	mu     sync.Mutex
	conn   Conn
	closed atomic.Bool
}

func newLockedSender(conn Conn) *lockedSender {
	return &lockedSender{conn: conn}
}

func (s *lockedSender) send(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return websocket.ErrCloseSent
	}
	return s.conn.WriteMessage(messageType, data)
}

func (s *lockedSender) sendBinary(data []byte) error {
	return s.send(websocket.BinaryMessage, data)
}

func (s *lockedSender) sendText(data []byte) error {
	return s.send(websocket.TextMessage, data)
}

// sendClose writes a normal-closure frame. The transport stays open so the
// peer's close reply can still be read.
func (s *lockedSender) sendClose() error {
	return s.send(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// close shuts the transport down. It does not take the send lock: Close may
// run concurrently with a write and unblocks one stuck on a dead peer. Later
// sends fail without touching the transport.
func (s *lockedSender) close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.conn.Close()
}
