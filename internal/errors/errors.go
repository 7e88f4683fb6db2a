// Package errors provides standardized error codes for the bridge.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: The subsystem that generated the error (session, hook, server, storage, config)
//   - error: The specific error type within that domain
//
// Codes are stable and appear in log lines, so operators can grep for them.
// Human-readable messages are provided alongside codes.
package errors

import (
	"errors"
	"fmt"
)

// Error codes by domain.
const (
	// Session domain - PTY and child process errors
	CodeSessionSpawnFailed = "session.spawn_failed" // Failed to open the PTY or start the shell
	CodeSessionNotRunning  = "session.not_running"  // Operation on a PTY that was closed

	// Hook domain - shell hook datagram endpoint errors
	CodeHookBindFailed = "hook.bind_failed" // Endpoint could not be created or is in use
	CodeHookClosed     = "hook.closed"      // Endpoint was closed while receiving
	CodeHookSendFailed = "hook.send_failed" // Client could not deliver a hook event

	// Server domain - WebSocket and network errors
	CodeServerUpgradeFailed = "server.upgrade_failed" // WebSocket upgrade failed
	CodeServerListenFailed  = "server.listen_failed"  // Listener could not be created

	// Storage domain - history database errors
	CodeStorageOpenFailed  = "storage.open_failed"  // Database open failed
	CodeStorageQueryFailed = "storage.query_failed" // Database query failed
	CodeStorageSaveFailed  = "storage.save_failed"  // Failed to save data

	// Config domain
	CodeConfigLoadFailed = "config.load_failed" // Config file missing or malformed

	// General domain - catch-all errors
	CodeUnknown  = "error.unknown"  // Unknown error
	CodeInternal = "error.internal" // Internal error
)

// CodedError wraps an error with a stable error code.
// This allows errors to carry both a code for programmatic handling
// and a message for human consumption.
type CodedError struct {
	Code    string // Stable error code (e.g., "hook.bind_failed")
	Message string // Human-readable error message
	Cause   error  // Underlying error (may be nil)
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New creates a new CodedError with the given code and message.
func New(code, message string) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new CodedError wrapping an existing error.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// GetCode extracts the error code from an error.
// Falls back to CodeUnknown for errors that carry no code.
func GetCode(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}

	return CodeUnknown
}

// GetMessage extracts a human-readable message from an error.
func GetMessage(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Message
	}

	return err.Error()
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code string) bool {
	return GetCode(err) == code
}

// SpawnFailed creates a "session.spawn_failed" error.
func SpawnFailed(command string, cause error) *CodedError {
	return Wrap(CodeSessionSpawnFailed, fmt.Sprintf("failed to start %s in a PTY", command), cause)
}

// HookBindFailed creates a "hook.bind_failed" error.
func HookBindFailed(path string, cause error) *CodedError {
	return Wrap(CodeHookBindFailed, fmt.Sprintf("failed to bind hook endpoint %s", path), cause)
}

// HookInUse creates a "hook.bind_failed" error for an endpoint that a live
// process is still bound to.
func HookInUse(path string) *CodedError {
	return New(CodeHookBindFailed, fmt.Sprintf("hook endpoint already in use: %s", path))
}

// UpgradeFailed creates a "server.upgrade_failed" error.
func UpgradeFailed(cause error) *CodedError {
	return Wrap(CodeServerUpgradeFailed, "websocket upgrade failed", cause)
}

// Internal creates an "error.internal" error.
func Internal(message string, cause error) *CodedError {
	return Wrap(CodeInternal, message, cause)
}
