package pty

import (
	"os"
	"strings"
)

// FallbackShell is used when neither BRIDGE_SHELL nor the config names one.
const FallbackShell = "/bin/zsh"

// ShellEnvVar overrides the configured shell.
const ShellEnvVar = "BRIDGE_SHELL"

// HookEnvVar carries the hook endpoint path into the child environment.
const HookEnvVar = "BRIDGE_SOCK"

// ResolveShell picks the shell binary: the BRIDGE_SHELL environment variable
// wins, then the configured value, then FallbackShell.
func ResolveShell(configured string) string {
	if s := strings.TrimSpace(os.Getenv(ShellEnvVar)); s != "" {
		return s
	}
	if s := strings.TrimSpace(configured); s != "" {
		return s
	}
	return FallbackShell
}

// ChildEnv builds the environment for the shell: base plus BRIDGE_SOCK, and
// TERM=xterm-256color unless base already sets TERM. An existing BRIDGE_SOCK
// entry in base is replaced.
func ChildEnv(base []string, hookPath string) []string {
	env := make([]string, 0, len(base)+2)
	hasTerm := false
	for _, kv := range base {
		if strings.HasPrefix(kv, HookEnvVar+"=") {
			continue
		}
		if strings.HasPrefix(kv, "TERM=") {
			hasTerm = true
		}
		env = append(env, kv)
	}
	if !hasTerm {
		env = append(env, "TERM=xterm-256color")
	}
	return append(env, HookEnvVar+"="+hookPath)
}
