package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"mercator-hq/relayguard/pkg/config"
	"mercator-hq/relayguard/pkg/limits/admission"
	"mercator-hq/relayguard/pkg/storage/quota"
	"mercator-hq/relayguard/pkg/telemetry/health"
)

// StatsProvider reports admission state.
type StatsProvider interface {
	Stats() admission.Stats
}

// StorageManager reports storage usage and runs cleanup on demand.
type StorageManager interface {
	Report(ctx context.Context) (quota.Metrics, error)
	ClearSpaceIfNeeded(ctx context.Context) (quota.Tier, error)
}

// Options are the sources the server exposes. Nil sources leave their
// routes unmounted.
type Options struct {
	Checker *health.Checker
	Metrics http.Handler
	Limiter StatsProvider
	Storage StorageManager
	Logger  *slog.Logger

	Version   string
	Commit    string
	BuildTime string
}

// Server is the diagnostics HTTP server.
type Server struct {
	config       config.ServerConfig
	opts         Options
	logger       *slog.Logger
	httpServer   *http.Server
	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
	addr         string
}

// NewServer creates a diagnostics server.
func NewServer(cfg config.ServerConfig, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "server")
	}
	return &Server{
		config: cfg,
		opts:   opts,
		logger: logger,
	}
}

// Start listens on the configured address and serves until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}

	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddress, err)
	}

	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	s.addr = ln.Addr().String()
	s.isRunning = true
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting diagnostics server", "address", s.addr)
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.WithoutCancel(ctx))
	case err, ok := <-errChan:
		if ok {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
			return err
		}
		return nil
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.RLock()
		running := s.isRunning
		srv := s.httpServer
		s.mu.RUnlock()
		if !running {
			return
		}

		s.logger.Info("initiating graceful shutdown", "timeout", s.config.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("error during server shutdown", "error", err)
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		s.logger.Info("diagnostics server stopped")
	})

	return shutdownErr
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Addr returns the bound address once Start has begun listening.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	if s.opts.Checker != nil {
		health.Register(mux, s.opts.Checker, s.opts.Version, s.opts.Commit, s.opts.BuildTime)
	}
	if s.opts.Metrics != nil {
		mux.Handle("/metrics", s.opts.Metrics)
	}
	if s.opts.Limiter != nil {
		mux.HandleFunc("GET /stats", s.handleStats)
	}
	if s.opts.Storage != nil {
		mux.HandleFunc("GET /storage", s.handleStorage)
		mux.HandleFunc("POST /storage/cleanup", s.handleCleanup)
	}

	var handler http.Handler = mux
	handler = LoggingMiddleware(s.logger)(handler)
	handler = RequestIDMiddleware(handler)
	handler = RecoveryMiddleware(s.logger)(handler)
	return handler
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Limiter.Stats())
}

func (s *Server) handleStorage(w http.ResponseWriter, r *http.Request) {
	m, err := s.opts.Storage.Report(r.Context())
	if err != nil {
		s.logger.ErrorContext(r.Context(), "storage report failed", "error", err)
		writeError(w, http.StatusInternalServerError, "storage report failed")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type cleanupResponse struct {
	Tier    string        `json:"tier"`
	Storage quota.Metrics `json:"storage"`
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	tier, err := s.opts.Storage.ClearSpaceIfNeeded(r.Context())
	if err != nil {
		s.logger.ErrorContext(r.Context(), "storage cleanup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "storage cleanup failed")
		return
	}
	m, err := s.opts.Storage.Report(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage report failed")
		return
	}
	writeJSON(w, http.StatusOK, cleanupResponse{Tier: tier.String(), Storage: m})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
