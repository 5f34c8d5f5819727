//
//
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/geotrack/geotrack/internal/config"
)

// Dependencies are the collaborators behind the HTTP surface.
type Dependencies struct {
	Tracking    TrackingPort
	Streams     StreamPort
	Relay       RelayStatusPort
	Connections ConnectionsPort
}

// Server represents the HTTP API server.
type Server struct {
	mu         sync.Mutex
	httpServer *http.Server
	deps       Dependencies
	cfg        config.ServerConfig
	log        logrus.FieldLogger
	startTime  time.Time
	onShutdown []func()
}

// NewServer creates a new API server.
func NewServer(deps Dependencies, cfg config.ServerConfig, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		deps:      deps,
		cfg:       cfg,
		log:       log.WithField("component", "api"),
		startTime: time.Now(),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	s.RegisterRoutes(router)
	return router
}

// Start listens on addr and serves until Stop. It returns nil after a clean
// shutdown.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	for _, f := range s.onShutdown {
		s.httpServer.RegisterOnShutdown(f)
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.log.WithField("addr", ln.Addr().String()).Info("HTTP server listening")

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// OnShutdown registers f to run when Stop begins. Long-lived sessions that
// Shutdown would otherwise wait for (SSE) or never see (hijacked WebSockets)
// are closed this way. Call before Start.
func (s *Server) OnShutdown(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onShutdown = append(s.onShutdown, f)
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}

// GetServer returns the underlying HTTP server for testing.
func (s *Server) GetServer() *http.Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.httpServer
}
