package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	apperrors "github.com/termbridge/host/internal/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write temp config: %v", err)
	}
	return path
}

// TestLoad_AllFields verifies that all config fields are parsed correctly from TOML.
func TestLoad_AllFields(t *testing.T) {
	path := writeConfig(t, `
addr = "127.0.0.1:9000"
static_dir = "/srv/term"
shell = "/bin/bash"
rows = 50
cols = 160
socket_dir = "/run/termbridge"
history_db = "/var/lib/termbridge/history.db"
log_level = "debug"
mdns_enabled = true
qr = true
tls = true
tls_cert = "/path/to/cert.crt"
tls_key = "/path/to/key.key"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Addr != "127.0.0.1:9000" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if cfg.StaticDir != "/srv/term" {
		t.Errorf("StaticDir = %q", cfg.StaticDir)
	}
	if cfg.Shell != "/bin/bash" {
		t.Errorf("Shell = %q", cfg.Shell)
	}
	if cfg.Rows != 50 || cfg.Cols != 160 {
		t.Errorf("size = %dx%d, want 50x160", cfg.Rows, cfg.Cols)
	}
	if cfg.SocketDir != "/run/termbridge" {
		t.Errorf("SocketDir = %q", cfg.SocketDir)
	}
	if cfg.HistoryDB != "/var/lib/termbridge/history.db" {
		t.Errorf("HistoryDB = %q", cfg.HistoryDB)
	}
	if !cfg.Debug() {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if !cfg.MdnsEnabled || !cfg.QR || !cfg.TLS {
		t.Errorf("booleans not parsed: mdns=%v qr=%v tls=%v", cfg.MdnsEnabled, cfg.QR, cfg.TLS)
	}
	if cfg.TLSCert != "/path/to/cert.crt" || cfg.TLSKey != "/path/to/key.key" {
		t.Errorf("TLS paths = %q, %q", cfg.TLSCert, cfg.TLSKey)
	}
}

// TestLoad_PartialConfig verifies unset fields stay zero until ApplyDefaults.
func TestLoad_PartialConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `shell = "/bin/sh"`))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Addr != "" || cfg.Rows != 0 {
		t.Errorf("unset fields should be zero: %+v", cfg)
	}

	cfg.ApplyDefaults()
	if cfg.Addr != DefaultAddr {
		t.Errorf("Addr = %q, want %q", cfg.Addr, DefaultAddr)
	}
	if cfg.StaticDir != DefaultStaticDir {
		t.Errorf("StaticDir = %q", cfg.StaticDir)
	}
	if cfg.Rows != DefaultRows || cfg.Cols != DefaultCols {
		t.Errorf("size = %dx%d", cfg.Rows, cfg.Cols)
	}
	if cfg.LogLevel != DefaultLogLevel || cfg.Debug() {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.Shell != "/bin/sh" {
		t.Errorf("Shell overwritten: %q", cfg.Shell)
	}
}

// TestApplyDefaults_HistoryPath verifies the history database lands in ~/.termbridge.
func TestApplyDefaults_HistoryPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := &Config{}
	cfg.ApplyDefaults()
	want := filepath.Join(home, ".termbridge", "history.db")
	if cfg.HistoryDB != want {
		t.Errorf("HistoryDB = %q, want %q", cfg.HistoryDB, want)
	}
}

// TestLoad_ExplicitPath_NotFound verifies that an explicit missing path is an error.
func TestLoad_ExplicitPath_NotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.toml")
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
	if !apperrors.IsCode(err, apperrors.CodeConfigLoadFailed) {
		t.Errorf("expected %s, got %v", apperrors.CodeConfigLoadFailed, err)
	}
}

// TestLoad_EmptyPath_NoDefaultFile verifies that an empty path returns
// an empty Config without error when no default file exists.
func TestLoad_EmptyPath_NoDefaultFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error: %v", err)
	}
	if cfg.Addr != "" {
		t.Errorf("Addr = %q, want empty", cfg.Addr)
	}
}

// TestLoad_EmptyPath_DefaultFileExists verifies that an empty path loads
// from the default location when the file exists.
func TestLoad_EmptyPath_DefaultFileExists(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	configDir := filepath.Join(home, ".termbridge")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "config.toml"), []byte(`addr = "localhost:7777"`), 0600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error: %v", err)
	}
	if cfg.Addr != "localhost:7777" {
		t.Errorf("Addr = %q, want %q", cfg.Addr, "localhost:7777")
	}
}

// TestLoad_InvalidTOML verifies that a parse error is returned for invalid TOML.
func TestLoad_InvalidTOML(t *testing.T) {
	_, err := Load(writeConfig(t, "addr = \"missing quote\n"))
	if err == nil {
		t.Fatal("Load() expected error for invalid TOML, got nil")
	}
	if !apperrors.IsCode(err, apperrors.CodeConfigLoadFailed) {
		t.Errorf("expected %s, got %v", apperrors.CodeConfigLoadFailed, err)
	}
}

// TestLoad_UnknownKey verifies that typos are reported instead of ignored.
func TestLoad_UnknownKey(t *testing.T) {
	_, err := Load(writeConfig(t, "adr = \"0.0.0.0:1\"\n"))
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
	if !strings.Contains(err.Error(), "adr") {
		t.Errorf("error should name the key: %v", err)
	}
}

// TestValidate covers the values TOML accepts but the bridge rejects.
func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"empty", Config{}, false},
		{"sizes", Config{Rows: 24, Cols: 80}, false},
		{"negative rows", Config{Rows: -1}, true},
		{"huge cols", Config{Cols: 70000}, true},
		{"info", Config{LogLevel: "info"}, false},
		{"unknown level", Config{LogLevel: "trace"}, true},
		{"cert without key", Config{TLSCert: "a.crt"}, true},
		{"cert and key", Config{TLSCert: "a.crt", TLSKey: "a.key"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestLoad_ValidationFailure verifies Load surfaces Validate errors.
func TestLoad_ValidationFailure(t *testing.T) {
	_, err := Load(writeConfig(t, "rows = -5\n"))
	if !apperrors.IsCode(err, apperrors.CodeConfigLoadFailed) {
		t.Errorf("expected %s, got %v", apperrors.CodeConfigLoadFailed, err)
	}
}

// TestDefaultConfigPath verifies the default config path format.
func TestDefaultConfigPath(t *testing.T) {
	path, err := DefaultConfigPath()
	if err != nil {
		t.Fatalf("DefaultConfigPath() error: %v", err)
	}
	if filepath.Base(path) != "config.toml" {
		t.Errorf("DefaultConfigPath() = %q, want filename config.toml", path)
	}
	if filepath.Base(filepath.Dir(path)) != ".termbridge" {
		t.Errorf("DefaultConfigPath() = %q, want parent dir .termbridge", path)
	}
}

// TestWriteDefault_CreatesFile verifies the written file loads back with defaults.
func TestWriteDefault_CreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config file not created: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("permissions = %o, want 600", info.Mode().Perm())
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() of written default failed: %v", err)
	}
	if cfg.Addr != DefaultAddr || cfg.Rows != DefaultRows || cfg.Cols != DefaultCols {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

// TestWriteDefault_NoOverwrite verifies existing files are left alone.
func TestWriteDefault_NoOverwrite(t *testing.T) {
	path := writeConfig(t, `addr = "10.0.0.1:1"`)

	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() error: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != `addr = "10.0.0.1:1"` {
		t.Errorf("file was overwritten: %q", data)
	}
}

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	if got := ExpandHome("~/x/y.db"); got != filepath.Join(home, "x", "y.db") {
		t.Errorf("ExpandHome(~/x/y.db) = %q", got)
	}
	if got := ExpandHome("/abs/path"); got != "/abs/path" {
		t.Errorf("absolute path changed: %q", got)
	}
	if got := ExpandHome("~user/x"); got != "~user/x" {
		t.Errorf("~user form should be untouched: %q", got)
	}
}
