package config

// DefaultAddr is the default listen address for the bridge server.
const DefaultAddr = "0.0.0.0:7777"

// DefaultStaticDir is served at "/" when it exists.
const DefaultStaticDir = "./static"

// Default terminal size for new sessions.
const (
	DefaultRows = 40
	DefaultCols = 120
)

// DefaultLogLevel logs lifecycle lines only.
const DefaultLogLevel = "info"

// LogLevelDebug enables per-message tracing.
const LogLevelDebug = "debug"
