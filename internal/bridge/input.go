package bridge

import (
	"log"

	"github.com/gorilla/websocket"
)

// terminal is the write side of the PTY as the input router sees it.
type terminal interface {
	Write(p []byte)
	Resize(cols, rows int)
}

// inputRouter applies inbound client messages to the terminal. It never
// touches block or alt-screen state.
type inputRouter struct {
	term   terminal
	logger *log.Logger
	debug  bool
}

// handle applies one inbound message. It returns false on a close frame.
func (r *inputRouter) handle(messageType int, data []byte) bool {
	switch messageType {
	case websocket.BinaryMessage:
		r.term.Write(data)
	case websocket.TextMessage:
		if cols, rows, ok := ParseResize(data); ok {
			if r.debug {
				r.logger.Printf("bridge: resize %dx%d", cols, rows)
			}
			r.term.Resize(cols, rows)
			return true
		}
		r.term.Write(data)
	case websocket.CloseMessage:
		return false
	}
	return true
}

// run reads from conn until the client closes or the transport fails.
func (r *inputRouter) run(conn Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if !r.handle(messageType, data) {
			return
		}
	}
}
