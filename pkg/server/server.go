package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/telemetry/health"
	"mercator-hq/relay/pkg/telemetry/tracing"
)

// ErrAlreadyRunning is returned by Start on a running server.
var ErrAlreadyRunning = errors.New("server is already running")

// StatusFunc builds the document served on /status.
type StatusFunc func() any

// Options configures a Server.
type Options struct {
	Config config.AdminConfig

	// MetricsPath defaults to config.DefaultMetricsPath. Metrics may be nil.
	MetricsPath string
	Metrics     http.Handler

	// Checker defaults to a checker with no checks.
	Checker *health.Checker

	Status  StatusFunc
	Version string
	Logger  *slog.Logger
}

// Server is the admin HTTP server.
type Server struct {
	cfg     config.AdminConfig
	handler http.Handler
	logger  *slog.Logger

	mu       sync.Mutex
	running  bool
	listener net.Listener
	http     *http.Server
}

// New creates a server. Nothing listens until Start.
func New(opts Options) *Server {
	if opts.Config.ListenAddress == "" {
		opts.Config.ListenAddress = config.DefaultAdminListenAddress
	}
	if opts.Config.ShutdownTimeout == 0 {
		opts.Config.ShutdownTimeout = config.DefaultShutdownTimeout
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = config.DefaultMetricsPath
	}
	if opts.Checker == nil {
		opts.Checker = health.New(0)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Server{cfg: opts.Config, logger: opts.Logger.With("component", "admin")}
	s.handler = s.routes(opts)
	return s
}

func (s *Server) routes(opts Options) http.Handler {
	mux := http.NewServeMux()
	health.Register(mux, opts.Checker, opts.Version)
	if opts.Metrics != nil {
		mux.Handle(opts.MetricsPath, opts.Metrics)
	}
	if opts.Status != nil {
		mux.HandleFunc("/status", statusHandler(opts.Status))
	}

	var handler http.Handler = mux
	handler = tracing.HTTPMiddleware(handler)
	handler = loggingMiddleware(s.logger, handler)
	handler = requestIDMiddleware(handler)
	handler = recoveryMiddleware(s.logger, handler)
	return handler
}

func statusHandler(status StatusFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(status())
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr returns the bound address once Start is listening, or "".
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start listens on the configured address and serves until ctx is done,
// then shuts down gracefully within ShutdownTimeout.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	ln, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listening on %s: %w", s.cfg.ListenAddress, err)
	}
	s.running = true
	s.listener = ln
	s.http = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	srv := s.http
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("admin server listening", "address", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("admin server: %w", err)
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		return s.shutdown(srv)
	case err, ok := <-errChan:
		s.markStopped()
		if ok {
			return err
		}
		return nil
	}
}

func (s *Server) shutdown(srv *http.Server) error {
	s.logger.Info("admin server shutting down", "timeout", s.cfg.ShutdownTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	err := srv.Shutdown(ctx)
	s.markStopped()
	if err != nil {
		return fmt.Errorf("admin server shutdown: %w", err)
	}
	s.logger.Info("admin server stopped")
	return nil
}

func (s *Server) markStopped() {
	s.mu.Lock()
	s.running = false
	s.listener = nil
	s.mu.Unlock()
}
