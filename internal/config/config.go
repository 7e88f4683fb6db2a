// Package config provides TOML configuration file loading for the bridge.
// The configuration file lives at ~/.termbridge/config.toml by default, but can be
// overridden with the --config flag. CLI flags always take precedence over file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	apperrors "github.com/termbridge/host/internal/errors"
)

// Config represents the configuration file structure.
// Field names use Go camelCase internally but map to snake_case in TOML files
// via struct tags.
type Config struct {
	// Addr is the host:port for the WebSocket server.
	// Default: 0.0.0.0:7777
	Addr string `toml:"addr"`

	// StaticDir holds the browser client. Missing directories are ignored.
	// Default: ./static
	StaticDir string `toml:"static_dir"`

	// Shell is the program spawned for each session. BRIDGE_SHELL in the
	// environment overrides it; if both are empty /bin/zsh is used.
	Shell string `toml:"shell"`

	// Rows and Cols are the initial terminal size.
	// Default: 40x120
	Rows int `toml:"rows"`
	Cols int `toml:"cols"`

	// SocketDir is where per-session hook sockets are created.
	// Default: the system temp directory
	SocketDir string `toml:"socket_dir"`

	// HistoryDB is the SQLite database for session history.
	// Empty disables history.
	// Default: ~/.termbridge/history.db
	HistoryDB string `toml:"history_db"`

	// LogLevel controls logging verbosity: debug or info.
	// Default: info
	LogLevel string `toml:"log_level"`

	// MdnsEnabled advertises the bridge as _termbridge._tcp on the local network.
	// Default: false
	MdnsEnabled bool `toml:"mdns_enabled"`

	// QR prints the bridge URL as a QR code at startup.
	// Default: false
	QR bool `toml:"qr"`

	// TLS serves HTTPS/WSS with a self-signed certificate unless TLSCert and
	// TLSKey point at existing files.
	// Default: false
	TLS bool `toml:"tls"`

	// TLSCert is the path to the TLS certificate file.
	// Default: ~/.termbridge/certs/host.crt (auto-generated if missing)
	TLSCert string `toml:"tls_cert"`

	// TLSKey is the path to the TLS key file.
	// Default: ~/.termbridge/certs/host.key (auto-generated if missing)
	TLSKey string `toml:"tls_key"`
}

// Dir returns ~/.termbridge, the home of the config file, history and certs.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".termbridge"), nil
}

// DefaultConfigPath returns the default config file location: ~/.termbridge/config.toml.
// Returns an error only if the user's home directory cannot be determined.
func DefaultConfigPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DefaultHistoryPath returns ~/.termbridge/history.db.
func DefaultHistoryPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.db"), nil
}

// WriteDefault creates a config file listing the defaults at the given path.
//
// Behavior:
//   - If the file already exists, returns without error (does not overwrite).
//   - Creates the parent directory if it doesn't exist.
//   - Returns an error if the file cannot be written.
func WriteDefault(path string) error {
	// Check if file already exists - never overwrite
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content := fmt.Sprintf(`# termbridge configuration

# Listen on all interfaces for LAN access
addr = %q

# Browser client served at /
static_dir = %q

# Initial terminal size
rows = %d
cols = %d

# Shell for new sessions (BRIDGE_SHELL overrides)
# shell = "/bin/bash"

log_level = %q
`, DefaultAddr, DefaultStaticDir, DefaultRows, DefaultCols, DefaultLogLevel)

	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Load reads a TOML config file from the given path and returns a Config.
//
// Behavior:
//   - If path is empty, attempts to load from the default location (~/.termbridge/config.toml).
//     Returns an empty Config without error if the default file doesn't exist.
//   - If path is specified, returns an error if the file doesn't exist.
//   - Returns an error if the file exists but cannot be parsed or fails Validate.
//
// Errors carry the config.load_failed code.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return cfg, nil
		}
		if _, err := os.Stat(defaultPath); os.IsNotExist(err) {
			return cfg, nil
		}
		path = defaultPath
	} else if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, apperrors.New(apperrors.CodeConfigLoadFailed,
			fmt.Sprintf("config file not found: %s", path))
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfigLoadFailed,
			fmt.Sprintf("failed to parse config file %s", path), err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, apperrors.New(apperrors.CodeConfigLoadFailed,
			fmt.Sprintf("unknown keys in %s: %s", path, strings.Join(keys, ", ")))
	}

	if err := cfg.Validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfigLoadFailed,
			fmt.Sprintf("invalid config file %s", path), err)
	}
	return cfg, nil
}

// Validate checks values that TOML decoding accepts but the bridge cannot use.
// Zero values mean "use the default" and always pass.
func (c *Config) Validate() error {
	if c.Rows < 0 || c.Rows > 0xFFFF {
		return fmt.Errorf("rows must be between 1 and 65535, got %d", c.Rows)
	}
	if c.Cols < 0 || c.Cols > 0xFFFF {
		return fmt.Errorf("cols must be between 1 and 65535, got %d", c.Cols)
	}
	switch c.LogLevel {
	case "", DefaultLogLevel, LogLevelDebug:
	default:
		return fmt.Errorf("log_level must be %q or %q, got %q", DefaultLogLevel, LogLevelDebug, c.LogLevel)
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("tls_cert and tls_key must be set together")
	}
	return nil
}

// ApplyDefaults fills every unset field except Shell, SocketDir and the TLS
// paths, whose defaults are resolved by the packages that use them.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.StaticDir == "" {
		c.StaticDir = DefaultStaticDir
	}
	if c.Rows == 0 {
		c.Rows = DefaultRows
	}
	if c.Cols == 0 {
		c.Cols = DefaultCols
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.HistoryDB == "" {
		if path, err := DefaultHistoryPath(); err == nil {
			c.HistoryDB = path
		}
	}
}

// Debug reports whether per-message tracing is enabled.
func (c *Config) Debug() bool {
	return c.LogLevel == LogLevelDebug
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
