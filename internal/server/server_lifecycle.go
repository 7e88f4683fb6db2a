package server

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	apperrors "github.com/termbridge/host/internal/errors"
	tlsutil "github.com/termbridge/host/internal/tls"
)

// stopWait bounds how long Stop waits for sessions to tear down.
const stopWait = 5 * time.Second

// TLSConfig holds the TLS configuration for the server.
type TLSConfig struct {
	// CertPath is the path to the TLS certificate file.
	CertPath string
	// KeyPath is the path to the TLS private key file.
	KeyPath string
}

// StartAsync starts the server in a goroutine and returns any startup errors.
//
// The returned channel receives nil if startup succeeded, or an error if
// the listener could not be created (e.g., port already in use).
// After receiving from the channel, the server is either running or failed.
func (s *Server) StartAsync() <-chan error {
	return s.start(nil)
}

// StartAsyncTLS is StartAsync over TLS. When TLS is configured, the server
// only accepts HTTPS/WSS connections.
func (s *Server) StartAsyncTLS(tlsCfg TLSConfig) <-chan error {
	config, err := tlsutil.LoadTLSConfig(tlsCfg.CertPath, tlsCfg.KeyPath)
	if err != nil {
		errCh := make(chan error, 1)
		errCh <- fmt.Errorf("failed to load TLS certificate: %w", err)
		close(errCh)
		return errCh
	}
	return s.start(config)
}

func (s *Server) start(tlsConfig *tls.Config) <-chan error {
	errCh := make(chan error, 1)

	mux := s.createMux()

	// Create the listener first to detect port conflicts immediately.
	// net.Listen returns an error if the port is already in use.
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		errCh <- apperrors.Wrap(apperrors.CodeServerListenFailed,
			fmt.Sprintf("failed to listen on %s", s.addr), err)
		close(errCh)
		return errCh
	}

	mode := ""
	if tlsConfig != nil {
		ln = tls.NewListener(ln, tlsConfig)
		mode = " (TLS enabled)"
	}

	s.mu.Lock()
	s.listener = ln
	s.startedAt = time.Now()
	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpServer := s.httpServer
	s.mu.Unlock()

	go func() {
		s.logger.Printf("server: listening on %s%s", ln.Addr(), mode)
		// Signal successful startup
		errCh <- nil
		close(errCh)

		// Serve blocks until the server is stopped
		if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("server: serve error: %v", err)
		}
	}()

	return errCh
}

// Stop closes the listener, ends every live session and waits (bounded)
// for their shells to be torn down. Safe to call more than once.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true

	// Hijacked WebSocket connections are not closed by http.Server.Close.
	// Closing them ends each session's input router, which tears the
	// session down.
	for _, a := range s.sessions {
		a.conn.Close()
	}
	httpServer := s.httpServer
	s.mu.Unlock()

	var err error
	if httpServer != nil {
		err = httpServer.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopWait):
		s.logger.Printf("server: timed out waiting for %d sessions to end", s.SessionCount())
	}

	return err
}
