// Package server exposes the engine over HTTP: the streaming chat relay
// plus request/response endpoints for session history and control.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"sessiond/internal/agent"
	"sessiond/internal/registry"
	"sessiond/internal/relay"
	"sessiond/internal/store"
)

// Config carries the server's dependencies. All fields except
// ShutdownTimeout are required.
type Config struct {
	Addr            string
	Logger          *slog.Logger
	Store           *store.Store
	Driver          agent.Driver
	Registry        *registry.Registry
	ShutdownTimeout time.Duration
}

// Server serves the session event engine API.
type Server struct {
	logger          *slog.Logger
	store           *store.Store
	registry        *registry.Registry
	relay           *relay.Relay
	addr            string
	shutdownTimeout time.Duration

	mu        sync.Mutex
	boundAddr string
	ready     chan struct{}
}

// New validates cfg and returns an unstarted server. Missing required
// fields are programmer error and panic.
func New(cfg Config) *Server {
	if cfg.Addr == "" {
		panic("server: Addr is required")
	}
	if cfg.Logger == nil {
		panic("server: Logger is required")
	}
	if cfg.Store == nil {
		panic("server: Store is required")
	}
	if cfg.Driver == nil {
		panic("server: Driver is required")
	}
	if cfg.Registry == nil {
		panic("server: Registry is required")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	return &Server{
		logger:          cfg.Logger,
		store:           cfg.Store,
		registry:        cfg.Registry,
		relay:           relay.New(cfg.Driver, cfg.Registry, cfg.Logger),
		addr:            cfg.Addr,
		shutdownTimeout: cfg.ShutdownTimeout,
		ready:           make(chan struct{}),
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleHistory)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDelete)
	mux.HandleFunc("GET /api/sessions/{id}/status", s.handleStatus)
	mux.HandleFunc("POST /api/sessions/{id}/cancel", s.handleCancel)
	mux.HandleFunc("GET /api/sessions/{id}/events", s.handleEvents)
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully within the
// configured timeout. Streaming requests still in flight when the timeout
// expires are cut off.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}

	s.mu.Lock()
	s.boundAddr = ln.Addr().String()
	s.mu.Unlock()
	close(s.ready)

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()
	s.logger.Info("server listening", "addr", s.Addr())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			srv.Close()
			return fmt.Errorf("shutdown: %w", err)
		}
		<-serveErr
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	}
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the bound address, or the configured one before Run binds.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.boundAddr != "" {
		return s.boundAddr
	}
	return s.addr
}
