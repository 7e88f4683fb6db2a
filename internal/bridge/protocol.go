package bridge

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Message type values carried in the "type" field of JSON control messages.
const (
	MessageTypeAltScreen  = "alt_screen"
	MessageTypeBlockChunk = "block_chunk"
	MessageTypeBlockEvent = "block_event"
	MessageTypeResize     = "resize"
)

// Block lifecycle values of a block_event's "event" field.
const (
	BlockEventOpened = "opened"
	BlockEventClosed = "closed"
)

// Escape sequences that switch the terminal into and out of the alternate
// screen buffer (DEC private mode 1049).
var (
	altScreenEnter = []byte("\x1b[?1049h")
	altScreenExit  = []byte("\x1b[?1049l")
)

// AltScreenMessage is the notice sent when the alternate screen toggles.
type AltScreenMessage struct {
	Type string `json:"type"`
	On   bool   `json:"on"`
}

// BlockChunkMessage carries terminal output attributed to an open block.
type BlockChunkMessage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Text string `json:"text"`
}

// HookEvent is the part of a hook datagram the bridge understands. Anything
// else in the payload is forwarded untouched.
type HookEvent struct {
	Type    string
	Event   string
	BlockID string
	HasID   bool
}

func encodeAltScreen(on bool) []byte {
	data, _ := json.Marshal(AltScreenMessage{Type: MessageTypeAltScreen, On: on})
	return data
}

func encodeBlockChunk(id string, chunk []byte) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	// Terminal output is full of <, > and &; keep them readable.
	enc.SetEscapeHTML(false)
	_ = enc.Encode(BlockChunkMessage{
		Type: MessageTypeBlockChunk,
		ID:   id,
		Text: lossyText(chunk),
	})
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
}

// lossyText decodes b as UTF-8, replacing invalid sequences with U+FFFD.
func lossyText(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), "�")
}

// ParseHookEvent decodes a hook payload. It reports ok=false when the
// payload is not a JSON object. Fields of the wrong type are left empty.
func ParseHookEvent(payload []byte) (HookEvent, bool) {
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
		return HookEvent{}, false
	}

	var ev HookEvent
	ev.Type, _ = fields["type"].(string)
	ev.Event, _ = fields["event"].(string)
	if block, ok := fields["block"].(map[string]any); ok {
		ev.BlockID, ev.HasID = block["id"].(string)
	}
	return ev, true
}

// ParseResize recognizes {"type":"resize","cols":N,"rows":N} where N is a
// non-negative integer. Anything else, including objects that lack either
// dimension, reports ok=false and should be treated as keystrokes.
func ParseResize(text []byte) (cols, rows int, ok bool) {
	if len(text) == 0 || text[0] != '{' {
		return 0, 0, false
	}

	dec := json.NewDecoder(bytes.NewReader(text))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return 0, 0, false
	}
	if _, err := dec.Token(); err != io.EOF {
		return 0, 0, false
	}
	if t, _ := fields["type"].(string); t != MessageTypeResize {
		return 0, 0, false
	}

	c, ok := parseDimension(fields["cols"])
	if !ok {
		return 0, 0, false
	}
	r, ok := parseDimension(fields["rows"])
	if !ok {
		return 0, 0, false
	}
	return c, r, true
}

func parseDimension(v any) (int, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	u, err := strconv.ParseUint(n.String(), 10, 64)
	if err != nil {
		return 0, false
	}
	if u > math.MaxInt32 {
		u = math.MaxInt32
	}
	return int(u), true
}
