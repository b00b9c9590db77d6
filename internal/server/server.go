// Package server constructs and runs the relay's HTTP and WebSocket service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Tyrowin/sparkrelay/internal/config"
	"github.com/Tyrowin/sparkrelay/internal/logging"
	"github.com/Tyrowin/sparkrelay/internal/room"
)

// Server bundles the hub, room registry and HTTP server built from one Config.
type Server struct {
	cfg        *config.Config
	hub        *Hub
	httpServer *http.Server
}

// New creates a Server from cfg. The hub is not started until Run.
func New(cfg *config.Config) *Server {
	if cfg == nil {
		cfg = config.Default()
	}
	hub := NewHub(room.NewRegistry(cfg.MaxRoomNameLength))
	return &Server{
		cfg:        cfg,
		hub:        hub,
		httpServer: CreateServer(cfg.Port, SetupRoutes(hub, cfg)),
	}
}

// Hub returns the server's hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the HTTP handler serving all routes.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// CreateServer creates and configures an HTTP server with the specified address and handler.
// It sets reasonable timeout values for production use.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Run starts the hub and serves on the configured port until ctx is done,
// then shuts everything down within the configured timeout.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go s.hub.Run()
	logging.Info("Hub started and ready to manage WebSocket connections")

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Server listening", zap.String("addr", ln.Addr().String()))
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		logging.Info("Shutdown signal received, stopping server...")
		return s.Shutdown()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		_ = s.hub.Shutdown(s.cfg.ShutdownTimeout)
		return fmt.Errorf("http server: %w", err)
	}
}

// Shutdown stops accepting HTTP requests, then closes every WebSocket
// connection through the hub. Each step is bounded by the shutdown timeout.
func (s *Server) Shutdown() error {
	logging.Info("Shutting down HTTP server...")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	httpErr := s.httpServer.Shutdown(ctx)
	if httpErr != nil {
		logging.Error("HTTP server shutdown error", zap.Error(httpErr))
	}

	hubErr := s.hub.Shutdown(s.cfg.ShutdownTimeout)
	logging.Sync()

	return errors.Join(httpErr, hubErr)
}
