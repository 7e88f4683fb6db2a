// Command wsclient attaches the local terminal to a termbridge session.
// Usage: go run ./cmd/wsclient [-v] ws://127.0.0.1:7777/bridge
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/term"

	"github.com/termbridge/host/internal/mdns"
	hostTLS "github.com/termbridge/host/internal/tls"
)

const defaultURL = "ws://127.0.0.1:7777/bridge"

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// conn serializes writes; stdin and SIGWINCH both send.
type conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *conn) send(kind int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(kind, data)
}

func resizeMessage(cols, rows int) []byte {
	data, _ := json.Marshal(map[string]any{"type": "resize", "cols": cols, "rows": rows})
	return data
}

// describe renders a text frame for -v output. Raw mode needs \r\n.
func describe(text []byte) string {
	var msg struct {
		Type string `json:"type"`
		On   *bool  `json:"on"`
		ID   string `json:"id"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(text, &msg); err != nil || msg.Type == "" {
		return fmt.Sprintf("[hook] %s\r\n", text)
	}
	switch msg.Type {
	case "alt_screen":
		if msg.On != nil && *msg.On {
			return "[alt_screen on]\r\n"
		}
		return "[alt_screen off]\r\n"
	case "block_chunk":
		return fmt.Sprintf("[block %s] %q\r\n", msg.ID, msg.Text)
	default:
		return fmt.Sprintf("[%s] %s\r\n", msg.Type, text)
	}
}

// pinFingerprint accepts only the certificate whose SHA-256 matches fp.
func pinFingerprint(fp string) func([][]byte, [][]*x509.Certificate) error {
	want := strings.ToUpper(fp)
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return errors.New("no certificate presented")
		}
		cert, err := x509.ParseCertificate(rawCerts[0])
		if err != nil {
			return err
		}
		if got := hostTLS.ComputeFingerprint(cert); got != want {
			return fmt.Errorf("certificate fingerprint mismatch: %s", got)
		}
		return nil
	}
}

func discover(timeout time.Duration, stdout, stderr io.Writer) int {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	hosts, err := mdns.Discover(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Discovery failed: %v\n", err)
		return 1
	}
	if len(hosts) == 0 {
		fmt.Fprintln(stdout, "No bridges found.")
		return 0
	}
	for _, h := range hosts {
		fmt.Fprintf(stdout, "%s\t%s", h.Name, h.URL())
		if h.Fingerprint != "" {
			fmt.Fprintf(stdout, "\tfp=%s", h.Fingerprint)
		}
		fmt.Fprintln(stdout)
	}
	return 0
}

func run(args []string, stdin *os.File, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("wsclient", flag.ContinueOnError)
	fs.SetOutput(stderr)
	verbose := fs.Bool("v", false, "Print alt_screen, block and hook messages to stderr")
	discoverFor := fs.Duration("discover", 0, "List bridges found via mDNS within this duration and exit")
	insecure := fs.Bool("insecure", false, "Skip TLS verification for wss://")
	fingerprint := fs.String("fp", "", "Pin the server certificate's SHA-256 fingerprint for wss://")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	if *discoverFor > 0 {
		return discover(*discoverFor, stdout, stderr)
	}

	url := defaultURL
	if fs.NArg() > 0 {
		url = fs.Arg(0)
	}

	dialer := *websocket.DefaultDialer
	if *insecure || *fingerprint != "" {
		tlsCfg := &tls.Config{InsecureSkipVerify: true}
		if *fingerprint != "" {
			tlsCfg.VerifyPeerCertificate = pinFingerprint(*fingerprint)
		}
		dialer.TLSClientConfig = tlsCfg
	}

	ws, _, err := dialer.Dial(url, nil)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to connect: %v\n", err)
		return 1
	}
	defer ws.Close()
	c := &conn{ws: ws}

	fd := int(stdin.Fd())
	if term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			fmt.Fprintf(stderr, "Failed to enter raw mode: %v\n", err)
			return 1
		}
		defer term.Restore(fd, state)

		sendSize := func() {
			if cols, rows, err := term.GetSize(fd); err == nil {
				c.send(websocket.TextMessage, resizeMessage(cols, rows))
			}
		}
		sendSize()

		winch := make(chan os.Signal, 1)
		signal.Notify(winch, syscall.SIGWINCH)
		defer signal.Stop(winch)
		go func() {
			for range winch {
				sendSize()
			}
		}()
	}

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := stdin.Read(buf)
			if n > 0 {
				if c.send(websocket.BinaryMessage, append([]byte(nil), buf[:n]...)) != nil {
					return
				}
			}
			if err != nil {
				c.send(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		}
	}()

	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				fmt.Fprintf(stderr, "\r\nRead error: %v\r\n", err)
				return 1
			}
			return 0
		}
		switch kind {
		case websocket.BinaryMessage:
			stdout.Write(data)
		case websocket.TextMessage:
			if *verbose {
				io.WriteString(stderr, describe(data))
			}
		}
	}
}
