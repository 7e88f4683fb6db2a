package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/termbridge/host/internal/bridge"
	"github.com/termbridge/host/internal/ipc"
	"github.com/termbridge/host/internal/pty"
)

type blockRef struct {
	ID string `json:"id"`
}

type blockEvent struct {
	Type  string    `json:"type"`
	Event string    `json:"event"`
	Block *blockRef `json:"block,omitempty"`
}

// emitPayload turns emit's arguments into the datagram to send.
func emitPayload(args []string) ([]byte, error) {
	if len(args) == 0 {
		return nil, errors.New("missing event")
	}

	switch args[0] {
	case "open":
		if len(args) != 2 || args[1] == "" {
			return nil, errors.New("usage: emit open <block-id>")
		}
		return json.Marshal(blockEvent{
			Type: bridge.MessageTypeBlockEvent, Event: bridge.BlockEventOpened,
			Block: &blockRef{ID: args[1]},
		})
	case "close":
		if len(args) > 2 {
			return nil, errors.New("usage: emit close [block-id]")
		}
		ev := blockEvent{Type: bridge.MessageTypeBlockEvent, Event: bridge.BlockEventClosed}
		if len(args) == 2 {
			ev.Block = &blockRef{ID: args[1]}
		}
		return json.Marshal(ev)
	}

	// Raw payloads are passed through untouched; the bridge forwards any
	// text and only interprets what it recognizes.
	return []byte(strings.Join(args, " ")), nil
}

// runEmit implements "termbridge emit".
func runEmit(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("emit", flag.ContinueOnError)
	fs.SetOutput(stderr)
	socket := fs.String("socket", "", "Hook socket (default: $"+pty.HookEnvVar+")")
	fs.Usage = func() {
		fmt.Fprintf(stderr, `Usage: termbridge emit [options] <json>
       termbridge emit [options] open <block-id>
       termbridge emit [options] close [block-id]

Sends one hook event to the bridge session this shell runs in.

Options:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	path := *socket
	if path == "" {
		path = os.Getenv(pty.HookEnvVar)
	}
	if path == "" {
		fmt.Fprintf(stderr, "Error: $%s is not set; run inside a termbridge session or pass --socket\n", pty.HookEnvVar)
		return 1
	}

	payload, err := emitPayload(fs.Args())
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		fs.Usage()
		return 1
	}
	if err := ipc.SendHookEvent(path, payload); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
