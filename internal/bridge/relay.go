package bridge

import (
	"io"
)

// readChunkSize is the most terminal output forwarded in one frame.
const readChunkSize = 4096

// hookReceiver is the receive side of the hook endpoint.
type hookReceiver interface {
	Recv() ([]byte, error)
}

// relayBytes copies terminal output into q until the terminal is exhausted,
// then publishes a single empty chunk as the terminator and closes q.
func relayBytes(r io.Reader, q *queue[[]byte]) {
	buf := make([]byte, readChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			q.push(chunk)
		}
		if err != nil || n == 0 {
			break
		}
	}
	q.push([]byte{})
	q.close()
}

// relayEvents copies hook payloads into q as text until the listener is
// closed. Invalid UTF-8 is replaced rather than dropped.
func relayEvents(h hookReceiver, q *queue[string]) {
	defer q.close()
	for {
		payload, err := h.Recv()
		if err != nil {
			return
		}
		if len(payload) == 0 {
			continue
		}
		q.push(lossyText(payload))
	}
}
