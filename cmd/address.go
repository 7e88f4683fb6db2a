package main

import (
	"net"
	"strconv"
)

// GetPreferredOutboundIP returns the machine's preferred outbound IPv4 address.
// It works by dialing a UDP connection to a public IP (no actual traffic sent)
// and checking which local address was selected by the OS routing table.
// Returns empty string if detection fails.
func GetPreferredOutboundIP() string {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()

	localAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return ""
	}
	return localAddr.IP.String()
}

// tailscaleNet is the CGNAT range used by Tailscale (100.64.0.0/10).
var tailscaleNet = &net.IPNet{
	IP:   net.IPv4(100, 64, 0, 0),
	Mask: net.CIDRMask(10, 32),
}

// GetTailscaleIP scans network interfaces for a Tailscale IP address.
// Returns empty string if no Tailscale IP is found.
func GetTailscaleIP() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if ip := ipNet.IP.To4(); ip != nil && tailscaleNet.Contains(ip) {
				return ip.String()
			}
		}
	}
	return ""
}

// displayHost picks the address to show clients for a listener bound to
// listenAddr. Wildcard binds are replaced by a reachable interface address.
func displayHost(listenAddr string, lookup ...func() string) (host string, port int) {
	h, p, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return listenAddr, 0
	}
	port, _ = strconv.Atoi(p)

	if ip := net.ParseIP(h); h != "" && (ip == nil || !ip.IsUnspecified()) {
		return h, port
	}
	if len(lookup) == 0 {
		lookup = []func() string{GetTailscaleIP, GetPreferredOutboundIP}
	}
	for _, fn := range lookup {
		if ip := fn(); ip != "" {
			return ip, port
		}
	}
	return "127.0.0.1", port
}

// bridgeURL is the WebSocket URL clients attach to.
func bridgeURL(host string, port int, tls bool) string {
	scheme := "ws"
	if tls {
		scheme = "wss"
	}
	return scheme + "://" + net.JoinHostPort(host, strconv.Itoa(port)) + "/bridge"
}
