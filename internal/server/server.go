package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/muurk/udpdiscovery/internal/discovery"
	"github.com/muurk/udpdiscovery/internal/logging"
)

// Config holds the server configuration
type Config struct {
	Host      string
	Port      int           // 0 picks a free port
	Interval  time.Duration // Pause between scans; 0 scans only on request
	CertPath  string        // TLS certificate (optional)
	KeyPath   string        // TLS private key (optional)
	Advertise bool          // Announce the feed over mDNS
	Instance  string        // mDNS instance name (default: "udpdiscover")
}

// Stats summarizes the scans run by the server
type Stats struct {
	Scans         int       `json:"scans"`
	LastScanAt    time.Time `json:"last_scan_at,omitempty"`
	LastResponses int       `json:"last_responses"`
}

// Server runs discovery scans and streams every response to websocket clients
type Server struct {
	config   *Config
	detector *discovery.Detector
	request  discovery.ScanRequest
	logger   *zap.Logger

	tlsConfig  *tls.Config
	httpServer *http.Server
	listener   net.Listener
	mdns       *zeroconf.Server

	scanNow chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	clients map[string]*client
	stats   Stats
}

// New creates a new Server. The request is validated up front so a bad
// profile fails before anything listens.
func New(config *Config, detector *discovery.Detector, req discovery.ScanRequest, logger *zap.Logger) (*Server, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Named("server")
	}

	var tlsConfig *tls.Config
	if config.CertPath != "" || config.KeyPath != "" {
		var err error
		tlsConfig, err = NewTLSConfig(config.CertPath, config.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
	}

	s := &Server{
		config:    config,
		detector:  detector,
		request:   req,
		logger:    logger,
		tlsConfig: tlsConfig,
		scanNow:   make(chan struct{}, 1),
		clients:   make(map[string]*client),
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Listen binds the TCP listener. Serve calls it when needed.
func (s *Server) Listen() error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if s.tlsConfig != nil {
		listener = tls.NewListener(listener, s.tlsConfig)
	}
	s.listener = listener
	return nil
}

// Addr returns the bound address, or nil before Listen
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts clients and runs scans until ctx is done, then shuts down.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	port := s.listener.Addr().(*net.TCPAddr).Port
	s.logger.Info("Serving discovery feed",
		zap.Stringer("addr", s.listener.Addr()),
		zap.Bool("tls", s.tlsConfig != nil),
		zap.Int("device_port", s.request.DeviceListeningPort),
		zap.Duration("interval", s.config.Interval),
	)

	if s.config.Advertise {
		mdns, err := Advertise(s.config.Instance, port, s.request)
		if err != nil {
			s.logger.Warn("mDNS advertisement failed", zap.Error(err))
		} else {
			s.mdns = mdns
		}
	}

	scanCtx, stopScans := context.WithCancel(ctx)
	defer stopScans()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.scanLoop(scanCtx)
	}()

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.httpServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		stopScans()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case err := <-errChan:
		stopScans()
		_ = s.Shutdown(context.Background())
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// TriggerScan requests a scan as soon as the current one (if any) ends.
// Requests made while one is pending are merged.
func (s *Server) TriggerScan() {
	select {
	case s.scanNow <- struct{}{}:
	default:
	}
}

// scanLoop runs one scan per interval tick or trigger
func (s *Server) scanLoop(ctx context.Context) {
	var tick <-chan time.Time
	if s.config.Interval > 0 {
		ticker := time.NewTicker(s.config.Interval)
		defer ticker.Stop()
		tick = ticker.C
		s.runScan(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.scanNow:
		case <-tick:
		}
		if ctx.Err() != nil {
			return
		}
		s.runScan(ctx)
	}
}

// runScan performs one scan. Clients receive each response live through
// their detector subscription; the summary follows once the scan ends.
func (s *Server) runScan(ctx context.Context) {
	started := time.Now()
	s.broadcast(Message{Type: TypeScanStarted, Time: started})

	pkgs, err := s.detector.DeviceInfoPackages(ctx, s.request)
	if err != nil {
		s.logger.Error("Scan failed", zap.Error(err))
		s.broadcast(Message{Type: TypeError, Time: time.Now(), Error: err.Error()})
		return
	}

	s.mu.Lock()
	s.stats.Scans++
	s.stats.LastScanAt = started
	s.stats.LastResponses = len(pkgs)
	s.mu.Unlock()

	s.logger.Debug("Scan finished",
		zap.Int("responses", len(pkgs)),
		zap.Duration("elapsed", time.Since(started)),
	)

	s.broadcast(Message{
		Type:      TypeScanFinished,
		Time:      time.Now(),
		Responses: len(pkgs),
	})
}

// Stats returns a snapshot of the scan counters
func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	if s.mdns != nil {
		s.mdns.Shutdown()
		s.mdns = nil
	}

	// Hijacked websocket connections are not tracked by http.Server
	if err := s.httpServer.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("Error closing listener", zap.Error(err))
	}

	s.mu.Lock()
	for id, c := range s.clients {
		s.logger.Debug("Closing client", zap.String("client", id))
		c.close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("All connections closed gracefully")
	case <-ctx.Done():
		s.logger.Warn("Shutdown timeout, forcing close")
	}

	return nil
}

// GetActiveConnections returns the number of connected websocket clients
func (s *Server) GetActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
