// Package tls manages the self-signed certificate used when the bridge
// serves wss://. It also computes the fingerprint shown in the startup
// banner and advertised over mDNS, so clients can pin the certificate.
package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultValidity is the lifetime of generated certificates.
const DefaultValidity = 365 * 24 * time.Hour

// renewBefore regenerates a stored certificate this close to expiry.
const renewBefore = 24 * time.Hour

// CertConfig holds configuration for certificate generation.
type CertConfig struct {
	// CertPath is where the PEM certificate is stored.
	// If empty, defaults to ~/.termbridge/certs/host.crt
	CertPath string

	// KeyPath is where the PEM private key is stored.
	// If empty, defaults to ~/.termbridge/certs/host.key
	KeyPath string

	// Hosts are the DNS names and IPs placed in the SAN list.
	// If empty, DefaultHosts is used.
	Hosts []string

	// ValidDuration is how long the certificate is valid.
	// If zero, DefaultValidity.
	ValidDuration time.Duration
}

// CertInfo describes a certificate on disk.
type CertInfo struct {
	CertPath string
	KeyPath  string

	// Fingerprint is the SHA-256 of the DER certificate, formatted as
	// colon-separated uppercase hex pairs.
	Fingerprint string

	NotBefore time.Time
	NotAfter  time.Time

	// IsGenerated is false when the certificate was loaded from disk.
	IsGenerated bool
}

func certDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".termbridge", "certs"), nil
}

// DefaultCertPath returns ~/.termbridge/certs/host.crt.
func DefaultCertPath() (string, error) {
	dir, err := certDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "host.crt"), nil
}

// DefaultKeyPath returns ~/.termbridge/certs/host.key.
func DefaultKeyPath() (string, error) {
	dir, err := certDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "host.key"), nil
}

// DefaultHosts returns the loopback names plus the machine's hostname and
// non-loopback unicast addresses, so LAN clients can connect by IP.
func DefaultHosts() []string {
	hosts := []string{"localhost", "127.0.0.1", "::1"}
	if name, err := os.Hostname(); err == nil && name != "" && name != "localhost" {
		hosts = append(hosts, name)
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return hosts
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() || ipNet.IP.IsLinkLocalUnicast() {
			continue
		}
		hosts = append(hosts, ipNet.IP.String())
	}
	return hosts
}

// EnsureCertificate loads the certificate at the configured paths, or
// generates a new one when either file is missing or the stored
// certificate is about to expire.
func EnsureCertificate(cfg CertConfig) (*CertInfo, error) {
	if cfg.CertPath == "" {
		path, err := DefaultCertPath()
		if err != nil {
			return nil, err
		}
		cfg.CertPath = path
	}
	if cfg.KeyPath == "" {
		path, err := DefaultKeyPath()
		if err != nil {
			return nil, err
		}
		cfg.KeyPath = path
	}

	if fileExists(cfg.CertPath) && fileExists(cfg.KeyPath) {
		info, err := LoadCertificate(cfg.CertPath, cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load certificate: %w", err)
		}
		if time.Until(info.NotAfter) > renewBefore {
			return info, nil
		}
	}

	info, err := GenerateCertificate(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to generate certificate: %w", err)
	}
	return info, nil
}

// LoadCertificate loads an existing certificate and computes its fingerprint.
func LoadCertificate(certPath, keyPath string) (*CertInfo, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate pair: %w", err)
	}

	x509Cert, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	return &CertInfo{
		CertPath:    certPath,
		KeyPath:     keyPath,
		Fingerprint: ComputeFingerprint(x509Cert),
		NotBefore:   x509Cert.NotBefore,
		NotAfter:    x509Cert.NotAfter,
	}, nil
}

// GenerateCertificate creates a self-signed P-256 certificate and writes
// it and its PKCS#8 key to cfg.CertPath and cfg.KeyPath.
func GenerateCertificate(cfg CertConfig) (*CertInfo, error) {
	hosts := cfg.Hosts
	if len(hosts) == 0 {
		hosts = DefaultHosts()
	}
	validDuration := cfg.ValidDuration
	if validDuration == 0 {
		validDuration = DefaultValidity
	}

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	// Backdate slightly so clients with skewed clocks accept it.
	notBefore := time.Now().Add(-time.Minute)
	notAfter := notBefore.Add(validDuration)

	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"termbridge"},
			CommonName:   "termbridge host",
		},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, host := range hosts {
		if ip := net.ParseIP(host); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, host)
		}
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	keyBytes, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	if err := writePEM(cfg.CertPath, "CERTIFICATE", derBytes, 0644); err != nil {
		return nil, err
	}
	if err := writePEM(cfg.KeyPath, "PRIVATE KEY", keyBytes, 0600); err != nil {
		return nil, err
	}

	x509Cert, err := x509.ParseCertificate(derBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse generated certificate: %w", err)
	}

	return &CertInfo{
		CertPath:    cfg.CertPath,
		KeyPath:     cfg.KeyPath,
		Fingerprint: ComputeFingerprint(x509Cert),
		NotBefore:   x509Cert.NotBefore,
		NotAfter:    x509Cert.NotAfter,
		IsGenerated: true,
	}, nil
}

func writePEM(path, blockType string, der []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	// Remove first so a narrower perm applies to a pre-existing file.
	os.Remove(path)
	if err := os.WriteFile(path, data, perm); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// ComputeFingerprint returns the SHA-256 of the certificate as
// "AA:BB:CC:...".
func ComputeFingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}

// LoadTLSConfig loads a server TLS configuration from certificate files.
func LoadTLSConfig(certPath, keyPath string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate pair: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		// Forward-secret suites only; ignored for TLS 1.3.
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		},
	}, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
