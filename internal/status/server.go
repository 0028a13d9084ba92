package status

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/flight-control/fcc/internal/auth"
)

const apiV1 = "/api/v1"

// Server is the status HTTP server.
type Server struct {
	hub        *Hub
	middleware *auth.Middleware
	logger     *slog.Logger
	startTime  time.Time

	readTimeout time.Duration
	idleTimeout time.Duration

	httpOnce   sync.Once
	httpServer *http.Server
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithVerifier protects every endpoint but health with bearer tokens.
func WithVerifier(v *auth.Verifier) ServerOption {
	return func(s *Server) {
		if v != nil {
			s.middleware = auth.NewMiddleware(v)
		}
	}
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger.With(slog.String("component", "status")) }
}

// WithTimeouts sets the read and idle timeouts. Writes are not bounded
// because the event stream is long-lived.
func WithTimeouts(read, idle time.Duration) ServerOption {
	return func(s *Server) {
		s.readTimeout = read
		s.idleTimeout = idle
	}
}

// NewServer serves hub.
func NewServer(hub *Hub, opts ...ServerOption) *Server {
	s := &Server{
		hub:         hub,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		startTime:   time.Now(),
		readTimeout: 10 * time.Second,
		idleTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// RegisterRoutes adds the API to mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc(auth.HealthPath, s.handleHealth)

	if s.middleware == nil {
		mux.HandleFunc(apiV1+"/status", s.handleStatus)
		mux.HandleFunc(apiV1+"/events", s.handleEvents)
		return
	}
	mux.HandleFunc(apiV1+"/status", s.middleware.RequireAuth(s.handleStatus, auth.ScopeRead))
	mux.HandleFunc(apiV1+"/events", s.middleware.RequireAuth(s.handleEvents, auth.ScopeTelemetry))
}

func (s *Server) server() *http.Server {
	s.httpOnce.Do(func() {
		s.httpServer = &http.Server{
			Handler:     s.Handler(),
			ReadTimeout: s.readTimeout,
			IdleTimeout: s.idleTimeout,
		}
	})
	return s.httpServer
}

// Serve accepts connections on l until Stop.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("status API listening", "addr", l.Addr().String())
	if err := s.server().Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Start listens on addr and serves until Stop.
func (s *Server) Start(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(l)
}

// Stop ends the event streams and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.hub.Stop()
	if err := s.server().Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET method is allowed")
		return
	}
	uptime := time.Since(s.startTime)
	WriteSuccess(w, map[string]interface{}{
		"status":        "ok",
		"uptimeSeconds": int64(uptime.Seconds()),
		"since":         humanize.Time(s.startTime),
		"clients":       s.hub.Clients(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET method is allowed")
		return
	}
	WriteSuccess(w, s.hub.Snapshot())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET method is allowed")
		return
	}
	if _, ok := w.(http.Flusher); !ok {
		WriteError(w, http.StatusInternalServerError, "INTERNAL", "Streaming unsupported")
		return
	}
	if err := s.hub.Subscribe(r.Context(), w, r); err != nil {
		s.logger.Debug("status stream ended", "error", err)
	}
}
