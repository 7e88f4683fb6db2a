package ipc

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	apperrors "github.com/termbridge/host/internal/errors"
)

func tempSocketPath(t *testing.T) string {
	// Keep the path short: sun_path is ~104 bytes on darwin.
	baseDir, err := os.MkdirTemp("/tmp", "termbridge-ipc-")
	if err != nil {
		baseDir = t.TempDir()
	}
	t.Cleanup(func() {
		_ = os.RemoveAll(baseDir)
	})
	return filepath.Join(baseDir, "hook.sock")
}

func recvWithTimeout(t *testing.T, l *HookListener) ([]byte, error) {
	t.Helper()
	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := l.Recv()
		ch <- result{data, err}
	}()
	select {
	case r := <-ch:
		return r.data, r.err
	case <-time.After(2 * time.Second):
		t.Fatal("Recv did not return in time")
		return nil, nil
	}
}

func TestNewHookPath(t *testing.T) {
	path := NewHookPath("/var/run/x", "3f2a9c1e-7b44-4d0e-9a51-0c8e2f6d1b7a")
	if filepath.Dir(path) != "/var/run/x" {
		t.Errorf("unexpected dir in %q", path)
	}
	base := filepath.Base(path)
	if !strings.HasPrefix(base, "bridge-") || !strings.HasSuffix(base, "-3f2a9c1e.sock") {
		t.Errorf("unexpected socket name %q", base)
	}
	if !strings.Contains(base, "-"+strconv.Itoa(os.Getpid())+"-") {
		t.Errorf("socket name %q does not contain pid", base)
	}

	if got := filepath.Dir(NewHookPath("", "abc")); got != filepath.Clean(os.TempDir()) {
		t.Errorf("empty dir should default to %q, got %q", os.TempDir(), got)
	}
	if NewHookPath("/x", "") == NewHookPath("/x", "") {
		t.Error("paths without a session id should still differ")
	}
}

// Two sessions accepted back to back, usually within the same millisecond,
// must both be able to bind.
func TestNewHookPath_BackToBackSessionsBind(t *testing.T) {
	dir := filepath.Dir(tempSocketPath(t))

	first := NewHookPath(dir, "11111111-aaaa-4aaa-8aaa-aaaaaaaaaaaa")
	second := NewHookPath(dir, "22222222-bbbb-4bbb-8bbb-bbbbbbbbbbbb")
	if first == second {
		t.Fatalf("paths collide: %q", first)
	}

	l1, err := BindHook(first, nil)
	if err != nil {
		t.Fatalf("BindHook(first) error: %v", err)
	}
	defer l1.Close()
	l2, err := BindHook(second, nil)
	if err != nil {
		t.Fatalf("BindHook(second) error: %v", err)
	}
	defer l2.Close()

	if err := validateHookPath(second); err != nil {
		t.Errorf("generated path exceeds socket limit: %v", err)
	}
}

func TestBindHook_PermissionsAndCleanup(t *testing.T) {
	path := tempSocketPath(t)

	l, err := BindHook(path, nil)
	if err != nil {
		t.Fatalf("BindHook() error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("socket permissions = %o, want 0600", info.Mode().Perm())
	}
	if l.Path() != path {
		t.Errorf("Path() = %q, want %q", l.Path(), path)
	}

	if err := l.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("socket path should be removed, stat error: %v", err)
	}

	// Second close is a no-op.
	if err := l.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
}

func TestBindHook_CreatesPrivateDir(t *testing.T) {
	base := tempSocketPath(t)
	dir := filepath.Join(filepath.Dir(base), "nested")
	path := filepath.Join(dir, "hook.sock")

	l, err := BindHook(path, nil)
	if err != nil {
		t.Fatalf("BindHook() error: %v", err)
	}
	defer l.Close()

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("Stat() error: %v", err)
	}
	if info.Mode().Perm() != 0700 {
		t.Errorf("dir permissions = %o, want 0700", info.Mode().Perm())
	}
}

func TestBindHook_StaleSocketCleanup(t *testing.T) {
	path := tempSocketPath(t)

	stale, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		t.Fatalf("ListenUnixgram() error: %v", err)
	}
	stale.Close()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected stale socket file, got stat error: %v", err)
	}

	l, err := BindHook(path, nil)
	if err != nil {
		t.Fatalf("BindHook() over stale socket error: %v", err)
	}
	defer l.Close()
}

func TestBindHook_AlreadyInUse(t *testing.T) {
	path := tempSocketPath(t)

	first, err := BindHook(path, nil)
	if err != nil {
		t.Fatalf("BindHook() error: %v", err)
	}
	defer first.Close()

	_, err = BindHook(path, nil)
	if err == nil {
		t.Fatal("expected error binding a live socket")
	}
	if !apperrors.IsCode(err, apperrors.CodeHookBindFailed) {
		t.Errorf("expected %s, got %v", apperrors.CodeHookBindFailed, err)
	}
	if !strings.Contains(err.Error(), "in use") {
		t.Errorf("expected in-use message, got %v", err)
	}
}

func TestBindHook_NotASocket(t *testing.T) {
	path := tempSocketPath(t)
	if err := os.WriteFile(path, []byte("x"), 0600); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	_, err := BindHook(path, nil)
	if !apperrors.IsCode(err, apperrors.CodeHookBindFailed) {
		t.Fatalf("expected %s, got %v", apperrors.CodeHookBindFailed, err)
	}
}

func TestBindHook_PathTooLong(t *testing.T) {
	path := "/tmp/" + strings.Repeat("a", socketPathLimit) + ".sock"
	_, err := BindHook(path, nil)
	if !apperrors.IsCode(err, apperrors.CodeHookBindFailed) {
		t.Fatalf("expected %s, got %v", apperrors.CodeHookBindFailed, err)
	}
}

func TestHookListener_RecvSkipsEmptyDatagrams(t *testing.T) {
	path := tempSocketPath(t)
	l, err := BindHook(path, nil)
	if err != nil {
		t.Fatalf("BindHook() error: %v", err)
	}
	defer l.Close()

	if err := SendHookEvent(path, nil); err != nil {
		t.Fatalf("SendHookEvent(empty) error: %v", err)
	}
	payload := []byte(`{"type":"block_event","event":"opened","block":{"id":"b1"}}`)
	if err := SendHookEvent(path, payload); err != nil {
		t.Fatalf("SendHookEvent() error: %v", err)
	}

	got, err := recvWithTimeout(t, l)
	if err != nil {
		t.Fatalf("Recv() error: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("Recv() = %q, want %q", got, payload)
	}
}

func TestHookListener_RecvAfterClose(t *testing.T) {
	path := tempSocketPath(t)
	l, err := BindHook(path, nil)
	if err != nil {
		t.Fatalf("BindHook() error: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := l.Recv()
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	l.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrHookClosed) {
			t.Errorf("expected ErrHookClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Recv did not unblock after Close")
	}
}

func TestHookListener_NilClose(t *testing.T) {
	var l *HookListener
	if err := l.Close(); err != nil {
		t.Errorf("nil Close() error: %v", err)
	}
	if l.Path() != "" {
		t.Errorf("nil Path() = %q", l.Path())
	}
}

func TestSendHookEvent_Errors(t *testing.T) {
	if err := SendHookEvent("", []byte("x")); !apperrors.IsCode(err, apperrors.CodeHookSendFailed) {
		t.Errorf("empty path: expected %s, got %v", apperrors.CodeHookSendFailed, err)
	}

	path := tempSocketPath(t)
	if err := SendHookEvent(path, []byte("x")); !apperrors.IsCode(err, apperrors.CodeHookSendFailed) {
		t.Errorf("missing socket: expected %s, got %v", apperrors.CodeHookSendFailed, err)
	}

	big := make([]byte, MaxDatagramSize+1)
	if err := SendHookEvent(path, big); !apperrors.IsCode(err, apperrors.CodeHookSendFailed) {
		t.Errorf("oversized: expected %s, got %v", apperrors.CodeHookSendFailed, err)
	}
}
