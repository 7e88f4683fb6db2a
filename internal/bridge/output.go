package bridge

import (
	"bytes"
	"log"
	"sync"
)

// BlockState holds the id of the currently open command block, if any.
//
// The event consumer is the only writer; the byte consumer reads it once per
// chunk. The lock is never held across I/O.
type BlockState struct {
	mu   sync.Mutex
	id   string
	open bool
}

// Open marks id as the current block, replacing any previous one.
func (b *BlockState) Open(id string) {
	b.mu.Lock()
	b.id, b.open = id, true
	b.mu.Unlock()
}

// Close clears the current block and returns the id that was open.
func (b *BlockState) Close() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, was := b.id, b.open
	b.id, b.open = "", false
	return id, was
}

// Current returns the open block id.
func (b *BlockState) Current() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.id, b.open
}

// AltScreenTracker follows alternate-screen mode across output chunks. It
// is owned by a single consumer and needs no locking.
type AltScreenTracker struct {
	on bool
}

// Observe scans chunk for the enter and exit sequences and returns the
// transitions it caused, in order. The two scans are independent, so a chunk
// holding both sequences can switch the mode on and back off.
func (a *AltScreenTracker) Observe(chunk []byte) []bool {
	var changes []bool
	if !a.on && bytes.Contains(chunk, altScreenEnter) {
		a.on = true
		changes = append(changes, true)
	}
	if a.on && bytes.Contains(chunk, altScreenExit) {
		a.on = false
		changes = append(changes, false)
	}
	return changes
}

// On reports whether the alternate screen is active.
func (a *AltScreenTracker) On() bool {
	return a.on
}

// outputRouter turns terminal chunks and hook events into outbound frames.
// handleChunk and handleEvent run on separate goroutines and meet only at
// the sender and the block state.
type outputRouter struct {
	out   *lockedSender
	block *BlockState
	alt   AltScreenTracker

	// onBlock is told about block transitions; may be nil.
	onBlock func(id string, opened bool)

	logger *log.Logger
	debug  bool
}

// handleChunk forwards one terminal chunk. It returns false when the byte
// consumer should stop: after the terminator, or once the transport is gone.
func (r *outputRouter) handleChunk(chunk []byte) bool {
	if len(chunk) == 0 {
		if err := r.out.sendClose(); err != nil && r.debug {
			r.logger.Printf("bridge: close frame not sent: %v", err)
		}
		return false
	}

	if err := r.out.sendBinary(chunk); err != nil {
		if r.debug {
			r.logger.Printf("bridge: binary send failed, stopping output: %v", err)
		}
		return false
	}

	for _, on := range r.alt.Observe(chunk) {
		if r.debug {
			r.logger.Printf("bridge: alt screen on=%t", on)
		}
		_ = r.out.sendText(encodeAltScreen(on))
	}

	if id, ok := r.block.Current(); ok {
		if err := r.out.sendText(encodeBlockChunk(id, chunk)); err != nil {
			return false
		}
	}
	return true
}

// handleEvent updates the block state from a hook payload and forwards the
// payload verbatim. Payloads that don't parse are still forwarded. onBlock
// runs after the forward so a slow recorder never delays the client.
func (r *outputRouter) handleEvent(payload string) {
	var (
		changed string
		opened  bool
		notify  bool
	)
	if ev, ok := ParseHookEvent([]byte(payload)); ok && ev.Type == MessageTypeBlockEvent {
		switch ev.Event {
		case BlockEventOpened:
			if ev.HasID {
				r.block.Open(ev.BlockID)
				changed, opened, notify = ev.BlockID, true, true
			}
		case BlockEventClosed:
			if id, was := r.block.Close(); was {
				changed, notify = id, true
			}
		}
	}

	if err := r.out.sendText([]byte(payload)); err != nil && r.debug {
		r.logger.Printf("bridge: hook event dropped: %v", err)
	}

	if notify && r.onBlock != nil {
		r.onBlock(changed, opened)
	}
}

// drainChunks runs the byte consumer until the terminator or a dead
// transport.
func (r *outputRouter) drainChunks(q *queue[[]byte]) {
	for {
		chunk, ok := q.pop()
		if !ok {
			return
		}
		if !r.handleChunk(chunk) {
			return
		}
	}
}

// drainEvents runs the event consumer until the event queue is closed.
func (r *outputRouter) drainEvents(q *queue[string]) {
	for {
		payload, ok := q.pop()
		if !ok {
			return
		}
		r.handleEvent(payload)
	}
}
