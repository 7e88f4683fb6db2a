package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/termbridge/host/internal/config"
	"github.com/termbridge/host/internal/storage"
)

// runHistory implements "termbridge history [session-id]".
func runHistory(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "Path to config file (default: ~/.termbridge/config.toml)")
	dbPath := fs.String("history-db", "", "Session history database (default: ~/.termbridge/history.db)")
	limit := fs.Int("limit", 20, "Maximum number of sessions to list")
	asJSON := fs.Bool("json", false, "Print JSON instead of a table")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: termbridge history [options] [session-id]\n\n")
		fmt.Fprintf(stderr, "Without a session id, lists recent sessions. With one, lists its blocks.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}
	if fs.NArg() > 1 {
		fs.Usage()
		return 1
	}

	path := *dbPath
	if path == "" {
		fileCfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fileCfg.ApplyDefaults()
		path = fileCfg.HistoryDB
	}
	path = config.ExpandHome(path)

	// Listing must not create an empty database.
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintln(stdout, "No sessions recorded.")
		return 0
	}

	store, err := storage.NewSQLiteStore(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	if fs.NArg() == 1 {
		return printBlocks(store, fs.Arg(0), *asJSON, stdout, stderr)
	}
	return printSessions(store, *limit, *asJSON, stdout, stderr)
}

func printSessions(store *storage.SQLiteStore, limit int, asJSON bool, stdout, stderr io.Writer) int {
	sessions, err := store.ListSessions(limit)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if asJSON {
		return writeJSON(stdout, stderr, sessions)
	}
	if len(sessions) == 0 {
		fmt.Fprintln(stdout, "No sessions recorded.")
		return 0
	}

	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSHELL\tPID\tSTARTED\tDURATION\tEND")
	for _, s := range sessions {
		duration, end := "-", "live"
		if !s.Live() {
			duration = s.EndedAt.Sub(s.StartedAt).Round(time.Second).String()
			end = s.EndReason
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			s.ID, s.Shell, s.Pid, s.StartedAt.Local().Format("2006-01-02 15:04:05"), duration, end)
	}
	tw.Flush()
	return 0
}

func printBlocks(store *storage.SQLiteStore, sessionID string, asJSON bool, stdout, stderr io.Writer) int {
	session, err := store.GetSession(sessionID)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if session == nil {
		fmt.Fprintf(stderr, "Error: session not found: %s\n", sessionID)
		return 1
	}

	blocks, err := store.ListBlocks(sessionID)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if asJSON {
		return writeJSON(stdout, stderr, blocks)
	}
	if len(blocks) == 0 {
		fmt.Fprintf(stdout, "Session %s recorded no blocks.\n", sessionID)
		return 0
	}

	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BLOCK\tOPENED\tDURATION")
	for _, b := range blocks {
		duration := "open"
		if !b.ClosedAt.IsZero() {
			duration = b.ClosedAt.Sub(b.OpenedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", b.BlockID, b.OpenedAt.Local().Format("15:04:05.000"), duration)
	}
	tw.Flush()
	return 0
}

func writeJSON(stdout, stderr io.Writer, v any) int {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
