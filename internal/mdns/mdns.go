// Package mdns advertises the bridge on the local network.
//
// When enabled, the bridge registers a DNS-SD service so browser launchers
// and the attach client can find it without typing an IP address:
//   - Service type: _termbridge._tcp
//   - TXT records with version, name, WebSocket path, TLS flag and fingerprint
package mdns

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the mDNS service type for bridge hosts.
const ServiceType = "_termbridge._tcp"

// ProtocolVersion identifies the bridge wire protocol advertised in TXT.
const ProtocolVersion = "1"

// Config holds configuration for mDNS advertisement.
type Config struct {
	// Port is the server port to advertise (e.g., 7777).
	Port int

	// Path is the WebSocket endpoint, "/bridge" if empty.
	Path string

	// TLS marks the endpoint as wss://.
	TLS bool

	// Fingerprint is the TLS certificate fingerprint, omitted when empty.
	Fingerprint string

	// Name is a human-readable name for this host.
	// Defaults to the system hostname if empty.
	Name string
}

// Advertiser manages mDNS/DNS-SD service registration.
type Advertiser struct {
	config Config
	server *zeroconf.Server
	mu     sync.Mutex
}

// NewAdvertiser creates a new mDNS advertiser with the given configuration.
func NewAdvertiser(cfg Config) *Advertiser {
	return &Advertiser{
		config: cfg,
	}
}

// instanceName returns the configured name or the hostname.
func (a *Advertiser) instanceName() string {
	if a.config.Name != "" {
		return a.config.Name
	}
	hostname, err := os.Hostname()
	if err != nil {
		return "termbridge"
	}
	return hostname
}

// txtRecords builds the TXT strings. DNS TXT strings are limited to 255
// bytes each; a SHA-256 fingerprint is 95.
func (a *Advertiser) txtRecords(name string) []string {
	path := a.config.Path
	if path == "" {
		path = "/bridge"
	}
	tls := "0"
	if a.config.TLS {
		tls = "1"
	}
	txt := []string{
		"version=" + ProtocolVersion,
		"name=" + name,
		"path=" + path,
		"tls=" + tls,
	}
	if a.config.Fingerprint != "" {
		txt = append(txt, "fp="+a.config.Fingerprint)
	}
	return txt
}

// Start begins advertising the service via mDNS.
//
// Start is safe to call multiple times; subsequent calls are no-ops
// if already running.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return nil
	}

	name := a.instanceName()
	server, err := zeroconf.Register(
		name,
		ServiceType,
		"local.",
		a.config.Port,
		a.txtRecords(name),
		nil, // all interfaces
	)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}

	a.server = server
	return nil
}

// Stop unregisters the service. It is safe to call Stop multiple times or
// on an advertiser that was never started.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// IsRunning returns true if the advertiser is currently running.
func (a *Advertiser) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

// DiscoveredHost represents a bridge found via mDNS discovery.
type DiscoveredHost struct {
	Name        string
	Host        string
	Port        int
	Path        string
	TLS         bool
	Fingerprint string
	Version     string
}

// URL returns the WebSocket URL of the discovered bridge.
func (h DiscoveredHost) URL() string {
	scheme := "ws"
	if h.TLS {
		scheme = "wss"
	}
	host := h.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	path := h.Path
	if path == "" {
		path = "/bridge"
	}
	return fmt.Sprintf("%s://%s:%d%s", scheme, host, h.Port, path)
}

// applyTXT fills host fields from TXT strings. Unknown keys are ignored.
func (h *DiscoveredHost) applyTXT(records []string) {
	for _, txt := range records {
		key, value, ok := strings.Cut(txt, "=")
		if !ok {
			continue
		}
		switch key {
		case "fp":
			h.Fingerprint = value
		case "version":
			h.Version = value
		case "name":
			h.Name = value
		case "path":
			h.Path = value
		case "tls":
			h.TLS = value == "1"
		}
	}
}

// Discover browses for bridges until ctx is done and returns what it found.
func Discover(ctx context.Context) ([]DiscoveredHost, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	var (
		hosts []DiscoveredHost
		mu    sync.Mutex
		wg    sync.WaitGroup
	)

	entries := make(chan *zeroconf.ServiceEntry)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			host := DiscoveredHost{
				Name: entry.Instance,
				Port: entry.Port,
			}

			// Prefer IPv4 address
			if len(entry.AddrIPv4) > 0 {
				host.Host = entry.AddrIPv4[0].String()
			} else if len(entry.AddrIPv6) > 0 {
				host.Host = entry.AddrIPv6[0].String()
			}
			host.applyTXT(entry.Text)

			mu.Lock()
			hosts = append(hosts, host)
			mu.Unlock()
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, "local.", entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}

	<-ctx.Done()

	// zeroconf closes entries once ctx is done.
	wg.Wait()

	return hosts, nil
}
