package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/termbridge/host/internal/bridge"
	"github.com/termbridge/host/internal/config"
	"github.com/termbridge/host/internal/mdns"
	"github.com/termbridge/host/internal/pty"
	"github.com/termbridge/host/internal/server"
	"github.com/termbridge/host/internal/storage"
	hostTLS "github.com/termbridge/host/internal/tls"
)

// ServeConfig is the merged result of CLI flags and the config file.
type ServeConfig struct {
	Config    string
	Addr      string
	StaticDir string
	Shell     string
	Rows      int
	Cols      int
	SocketDir string
	HistoryDB string
	NoHistory bool
	LogLevel  string
	Mdns      bool
	QR        bool
	TLS       bool
	TLSCert   string
	TLSKey    string
}

// parseServeFlags parses args and merges the config file under them.
// It returns flag.ErrHelp when usage was requested.
func parseServeFlags(args []string, stderr io.Writer) (*ServeConfig, error) {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg := &ServeConfig{}
	fs.StringVar(&cfg.Config, "config", "", "Path to config file (default: ~/.termbridge/config.toml)")
	fs.StringVar(&cfg.Addr, "addr", "", "Listen address (default: "+config.DefaultAddr+")")
	fs.StringVar(&cfg.StaticDir, "static-dir", "", "Directory served at / (default: "+config.DefaultStaticDir+")")
	fs.StringVar(&cfg.Shell, "shell", "", "Shell to spawn per session ($"+pty.ShellEnvVar+" overrides; default: "+pty.FallbackShell+")")
	fs.IntVar(&cfg.Rows, "rows", 0, "Initial terminal rows (default: 40)")
	fs.IntVar(&cfg.Cols, "cols", 0, "Initial terminal columns (default: 120)")
	fs.StringVar(&cfg.SocketDir, "socket-dir", "", "Directory for hook sockets (default: system temp dir)")
	fs.StringVar(&cfg.HistoryDB, "history-db", "", "Session history database (default: ~/.termbridge/history.db)")
	fs.BoolVar(&cfg.NoHistory, "no-history", false, "Do not record session history")
	fs.StringVar(&cfg.LogLevel, "log-level", "", "Log level: debug or info (default: info)")
	fs.BoolVar(&cfg.Mdns, "mdns", false, "Advertise the bridge via mDNS (LAN-visible)")
	fs.BoolVar(&cfg.QR, "qr", false, "Print the bridge URL as a QR code")
	fs.BoolVar(&cfg.TLS, "tls", false, "Serve wss:// with a self-signed or configured certificate")
	fs.StringVar(&cfg.TLSCert, "tls-cert", "", "TLS certificate (default: ~/.termbridge/certs/host.crt)")
	fs.StringVar(&cfg.TLSKey, "tls-key", "", "TLS key (default: ~/.termbridge/certs/host.key)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: termbridge serve [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		fs.Usage()
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	explicitFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		explicitFlags[f.Name] = true
	})

	fileCfg, err := config.Load(cfg.Config)
	if err != nil {
		return nil, err
	}
	fileCfg.ApplyDefaults()

	// CLI flags win; file values (already defaulted) fill the rest.
	if cfg.Addr == "" {
		cfg.Addr = fileCfg.Addr
	}
	if cfg.StaticDir == "" {
		cfg.StaticDir = fileCfg.StaticDir
	}
	if cfg.Shell == "" {
		cfg.Shell = fileCfg.Shell
	}
	if cfg.Rows == 0 {
		cfg.Rows = fileCfg.Rows
	}
	if cfg.Cols == 0 {
		cfg.Cols = fileCfg.Cols
	}
	if cfg.SocketDir == "" {
		cfg.SocketDir = fileCfg.SocketDir
	}
	if cfg.HistoryDB == "" {
		cfg.HistoryDB = fileCfg.HistoryDB
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = fileCfg.LogLevel
	}
	if cfg.TLSCert == "" {
		cfg.TLSCert = fileCfg.TLSCert
	}
	if cfg.TLSKey == "" {
		cfg.TLSKey = fileCfg.TLSKey
	}
	// Booleans from the file apply only when the flag was not given, so
	// --mdns=false can switch off a file setting.
	if !explicitFlags["mdns"] {
		cfg.Mdns = fileCfg.MdnsEnabled
	}
	if !explicitFlags["qr"] {
		cfg.QR = fileCfg.QR
	}
	if !explicitFlags["tls"] {
		cfg.TLS = fileCfg.TLS
	}

	merged := config.Config{
		Rows: cfg.Rows, Cols: cfg.Cols, LogLevel: cfg.LogLevel,
		TLSCert: cfg.TLSCert, TLSKey: cfg.TLSKey,
	}
	if err := merged.Validate(); err != nil {
		return nil, err
	}

	cfg.Shell = pty.ResolveShell(cfg.Shell)
	cfg.SocketDir = config.ExpandHome(cfg.SocketDir)
	cfg.HistoryDB = config.ExpandHome(cfg.HistoryDB)
	cfg.StaticDir = config.ExpandHome(cfg.StaticDir)
	return cfg, nil
}

// bridgeHost owns everything serve starts, in creation order.
type bridgeHost struct {
	server     *server.Server
	store      *storage.SQLiteStore
	advertiser *mdns.Advertiser
	certInfo   *hostTLS.CertInfo
	url        string
	closeOnce  sync.Once
}

// startHost opens history, starts the server and advertises it. Failures
// of optional parts (history, mDNS) are reported and skipped.
func startHost(cfg *ServeConfig, stdout, stderr io.Writer) (*bridgeHost, error) {
	logger := log.New(stderr, "", log.LstdFlags)
	h := &bridgeHost{}

	var recorder bridge.Recorder
	if !cfg.NoHistory && cfg.HistoryDB != "" {
		store, err := openHistory(cfg.HistoryDB)
		if err != nil {
			fmt.Fprintf(stderr, "Warning: session history disabled: %v\n", err)
		} else {
			h.store = store
			if n, err := store.MarkInterrupted(time.Now()); err != nil {
				fmt.Fprintf(stderr, "Warning: failed to close stale sessions: %v\n", err)
			} else if n > 0 {
				fmt.Fprintf(stdout, "Marked %d session(s) from a previous run as interrupted\n", n)
			}
			recorder = server.NewHistoryRecorder(store)
		}
	}

	h.server = server.New(server.Config{
		Addr:      cfg.Addr,
		StaticDir: cfg.StaticDir,
		Logger:    logger,
		Session: bridge.Config{
			Shell:     cfg.Shell,
			Rows:      cfg.Rows,
			Cols:      cfg.Cols,
			SocketDir: cfg.SocketDir,
			Recorder:  recorder,
			Logger:    logger,
			Debug:     cfg.LogLevel == config.LogLevelDebug,
		},
	})

	var errCh <-chan error
	if cfg.TLS {
		certInfo, err := hostTLS.EnsureCertificate(hostTLS.CertConfig{
			CertPath: config.ExpandHome(cfg.TLSCert),
			KeyPath:  config.ExpandHome(cfg.TLSKey),
			Hosts:    tlsHosts(cfg.Addr),
		})
		if err != nil {
			h.close()
			return nil, fmt.Errorf("failed to setup TLS certificate: %w", err)
		}
		h.certInfo = certInfo
		if certInfo.IsGenerated {
			fmt.Fprintln(stdout, "Generated new self-signed TLS certificate")
		} else {
			fmt.Fprintln(stdout, "Loaded existing TLS certificate")
		}
		fmt.Fprintf(stdout, "Certificate: %s\n", certInfo.CertPath)
		fmt.Fprintf(stdout, "Valid until: %s\n", certInfo.NotAfter.Format("2006-01-02"))
		fmt.Fprintf(stdout, "Fingerprint (SHA-256):\n  %s\n", certInfo.Fingerprint)

		errCh = h.server.StartAsyncTLS(server.TLSConfig{
			CertPath: certInfo.CertPath,
			KeyPath:  certInfo.KeyPath,
		})
	} else {
		errCh = h.server.StartAsync()
	}
	if err := <-errCh; err != nil {
		h.close()
		return nil, err
	}

	host, port := displayHost(h.server.Addr())
	h.url = bridgeURL(host, port, cfg.TLS)

	fingerprint := ""
	if h.certInfo != nil {
		fingerprint = h.certInfo.Fingerprint
	}
	DisplayBanner(stdout, h.url, cfg.Shell, fingerprint, cfg.QR)

	if cfg.Mdns {
		h.advertiser = mdns.NewAdvertiser(mdns.Config{
			Port:        port,
			TLS:         cfg.TLS,
			Fingerprint: fingerprint,
		})
		if err := h.advertiser.Start(); err != nil {
			fmt.Fprintf(stderr, "Warning: failed to start mDNS discovery: %v\n", err)
			h.advertiser = nil
		} else {
			fmt.Fprintln(stdout, "mDNS discovery: ENABLED (visible on LAN)")
		}
	}

	return h, nil
}

// close releases everything in reverse order of creation. Safe to call
// more than once.
func (h *bridgeHost) close() {
	h.closeOnce.Do(func() {
		if h.advertiser != nil {
			h.advertiser.Stop()
		}
		if h.server != nil {
			h.server.Stop()
		}
		if h.store != nil {
			h.store.Close()
		}
	})
}

func openHistory(path string) (*storage.SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	return storage.NewSQLiteStore(path)
}

// tlsHosts adds the listen host to the certificate's SANs when it is a
// concrete address.
func tlsHosts(addr string) []string {
	hosts := hostTLS.DefaultHosts()
	h, _, err := net.SplitHostPort(addr)
	if err != nil || h == "" {
		return hosts
	}
	if ip := net.ParseIP(h); ip != nil && ip.IsUnspecified() {
		return hosts
	}
	for _, existing := range hosts {
		if existing == h {
			return hosts
		}
	}
	return append(hosts, h)
}

// DisplayBanner prints where to attach, optionally as a QR code.
func DisplayBanner(w io.Writer, url, shell, fingerprint string, showQR bool) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "  termbridge ready")
	fmt.Fprintln(w, "===========================================")

	if showQR {
		// Medium error correction keeps the code small enough for a terminal.
		qr, err := qrcode.New(url, qrcode.Medium)
		if err != nil {
			fmt.Fprintf(w, "Error generating QR code: %v\n", err)
		} else {
			fmt.Fprintln(w, "")
			fmt.Fprint(w, qr.ToSmallString(false))
			fmt.Fprintln(w, "-------------------------------------------")
		}
	}

	fmt.Fprintf(w, "  URL:         %s\n", url)
	fmt.Fprintf(w, "  Shell:       %s\n", shell)
	if fingerprint != "" {
		fmt.Fprintf(w, "  Fingerprint: %s\n", fingerprint)
	}
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")
}

// runServe implements "termbridge serve".
func runServe(args []string, stdout, stderr io.Writer) int {
	cfg, err := parseServeFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	h, err := startHost(cfg, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	sig := <-sigCh
	fmt.Fprintf(stdout, "\nReceived signal %v, stopping...\n", sig)
	h.close()
	return 0
}

// runInit implements "termbridge init".
func runInit(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("config", "", "Where to write the config (default: ~/.termbridge/config.toml)")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: termbridge init [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	target := *path
	if target == "" {
		var err error
		target, err = config.DefaultConfigPath()
		if err != nil {
			fmt.Fprintf(stderr, "Error: failed to determine config path: %v\n", err)
			return 1
		}
	}
	if _, err := os.Stat(target); err == nil {
		fmt.Fprintf(stdout, "Config already exists: %s\n", target)
		return 0
	}
	if err := config.WriteDefault(target); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Created config: %s\n", target)
	return 0
}
