package main

import (
	"fmt"
	"io"
	"os"
)

// Version is set at build time via -ldflags.
// Example: go build -ldflags="-X main.Version=v0.1.0" -o termbridge ./cmd
var Version = "dev"

const usage = `termbridge - attach a shell to a WebSocket, with shell-hook block tagging

Usage:
  termbridge <command> [options]

Commands:
  serve              Start the bridge server
  history            List recorded sessions, or the blocks of one session
  emit <json>        Send a hook event to the session in $BRIDGE_SOCK
  emit open <id>     Shorthand for a block opened event
  emit close [id]    Shorthand for a block closed event
  init               Write a default config file
  version            Print the version
Run 'termbridge <command> --help' for more information on a command.
`

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprint(stdout, usage)
		return 0
	}

	switch args[1] {
	case "serve":
		return runServe(args[2:], stdout, stderr)
	case "history":
		return runHistory(args[2:], stdout, stderr)
	case "emit":
		return runEmit(args[2:], stdout, stderr)
	case "init":
		return runInit(args[2:], stdout, stderr)
	case "--help", "-h", "help":
		fmt.Fprint(stdout, usage)
		return 0
	case "--version", "-v", "version":
		fmt.Fprintf(stdout, "termbridge %s\n", Version)
		return 0
	default:
		fmt.Fprintf(stdout, "Unknown command: %s\n", args[1])
		fmt.Fprint(stdout, usage)
		return 1
	}
}
