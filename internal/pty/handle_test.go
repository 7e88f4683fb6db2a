package pty

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	apperrors "github.com/termbridge/host/internal/errors"
)

// readUntil drains h until want appears or the deadline passes. It returns
// everything read so far.
func readUntil(t *testing.T, h *Handle, want string, timeout time.Duration) string {
	t.Helper()

	type chunk struct {
		data []byte
		eof  bool
	}
	ch := make(chan chunk, 64)
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := h.Read(buf)
			if err != nil {
				ch <- chunk{eof: true}
				return
			}
			ch <- chunk{data: append([]byte(nil), buf[:n]...)}
		}
	}()

	var out bytes.Buffer
	deadline := time.After(timeout)
	for {
		select {
		case c := <-ch:
			if c.eof {
				return out.String()
			}
			out.Write(c.data)
			if strings.Contains(out.String(), want) {
				return out.String()
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q, got %q", want, out.String())
		}
	}
}

func TestOpen_EmptyCommand(t *testing.T) {
	_, err := Open(Options{})
	if err == nil {
		t.Fatal("expected error for empty command")
	}
	if !apperrors.IsCode(err, apperrors.CodeSessionSpawnFailed) {
		t.Errorf("expected %s, got %v", apperrors.CodeSessionSpawnFailed, err)
	}
}

func TestOpen_MissingBinary(t *testing.T) {
	_, err := Open(Options{Command: "/nonexistent/definitely-not-a-shell"})
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
	if !apperrors.IsCode(err, apperrors.CodeSessionSpawnFailed) {
		t.Errorf("expected %s, got %v", apperrors.CodeSessionSpawnFailed, err)
	}
}

func TestOpen_DefaultSize(t *testing.T) {
	h, err := Open(Options{Command: "/bin/sh", Args: []string{"-c", "sleep 5"}})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer h.Kill()

	cols, rows := h.Size()
	if cols != DefaultCols || rows != DefaultRows {
		t.Errorf("expected %dx%d, got %dx%d", DefaultCols, DefaultRows, cols, rows)
	}
	if h.Pid() <= 0 {
		t.Errorf("expected a positive pid, got %d", h.Pid())
	}
}

func TestHandle_ReadOutputThenEOF(t *testing.T) {
	h, err := Open(Options{Command: "/bin/sh", Args: []string{"-c", "printf 'hello\\n'"}})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer h.Kill()

	out := readUntil(t, h, "hello", 3*time.Second)
	if !strings.Contains(out, "hello") {
		t.Fatalf("expected output to contain hello, got %q", out)
	}

	// Child exits after printing; the master must eventually report EOF.
	buf := make([]byte, 4096)
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		_, err := h.Read(buf)
		if err == io.EOF {
			return
		}
		if err != nil {
			t.Fatalf("expected io.EOF, got %v", err)
		}
	}
	t.Fatal("never reached EOF")
}

func TestHandle_WriteEchoes(t *testing.T) {
	h, err := Open(Options{Command: "/bin/sh", Args: []string{"-c", "read line; echo got:$line"}})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer h.Kill()

	h.Write([]byte("ping\n"))

	out := readUntil(t, h, "got:ping", 3*time.Second)
	if !strings.Contains(out, "got:ping") {
		t.Errorf("expected echoed input, got %q", out)
	}
}

func TestHandle_ResizeVisibleToChild(t *testing.T) {
	h, err := Open(Options{Command: "/bin/sh", Args: []string{"-c", "read _; stty size"}})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer h.Kill()

	h.Resize(100, 30)
	// Idempotent: applying the same size again changes nothing.
	h.Resize(100, 30)
	h.Write([]byte("\n"))

	out := readUntil(t, h, "30 100", 3*time.Second)
	if !strings.Contains(out, "30 100") {
		t.Errorf("expected stty to report 30 100, got %q", out)
	}

	cols, rows := h.Size()
	if cols != 100 || rows != 30 {
		t.Errorf("expected Size 100x30, got %dx%d", cols, rows)
	}
}

func TestHandle_ResizeInvalidIgnored(t *testing.T) {
	h, err := Open(Options{Command: "/bin/sh", Args: []string{"-c", "sleep 5"}, Rows: 24, Cols: 80})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer h.Kill()

	h.Resize(0, 10)
	h.Resize(-1, -1)

	cols, rows := h.Size()
	if cols != 80 || rows != 24 {
		t.Errorf("invalid resize changed size to %dx%d", cols, rows)
	}
}

func TestHandle_KillIsIdempotent(t *testing.T) {
	h, err := Open(Options{Command: "/bin/sh", Args: []string{"-c", "sleep 30"}})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if err := h.Kill(); err != nil {
		t.Fatalf("first Kill failed: %v", err)
	}
	if err := h.Kill(); err != nil {
		t.Errorf("second Kill should be a no-op, got %v", err)
	}

	done := make(chan struct{})
	go func() {
		h.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("child was not reaped after Kill")
	}

	// After Kill, reads report exhaustion and writes/resizes are swallowed.
	buf := make([]byte, 16)
	if _, err := h.Read(buf); err != io.EOF {
		t.Errorf("expected io.EOF after Kill, got %v", err)
	}
	h.Write([]byte("ignored"))
	h.Resize(10, 10)
}
