// Package server exposes runs, progress and credential health over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/law-makers/harvest/internal/engine"
)

// DefaultShutdownTimeout bounds graceful shutdown
const DefaultShutdownTimeout = 15 * time.Second

// Server owns the HTTP handlers and the runs started through them
type Server struct {
	runner *engine.Runner
	logger *zerolog.Logger

	// base is the parent context of async runs; cancelling it stops them
	base   context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Server around runner
func New(runner *engine.Runner, logger *zerolog.Logger) *Server {
	if logger == nil {
		logger = &log.Logger
	}
	base, cancel := context.WithCancel(context.Background())
	return &Server{
		runner:  runner,
		logger:  logger,
		base:    base,
		cancel:  cancel,
		running: make(map[string]context.CancelFunc),
	}
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.health)
	mux.HandleFunc("POST /api/runs", s.startRun)
	mux.HandleFunc("GET /api/runs/{runID}/progress", s.progress)
	mux.HandleFunc("DELETE /api/runs/{runID}", s.cancelRun)
	mux.HandleFunc("GET /api/credentials", s.credentials)

	return Chain(mux, RequestID, Recover(s.logger), AccessLog(s.logger))
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully and cancels runs that are still going
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		s.Close()
		s.logger.Info().Msg("HTTP server stopped")
		return err
	})
	return g.Wait()
}

// Close cancels async runs and waits for them to publish their final state
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

// reserve marks runID as running. Runs share one credential pool, so only
// one run may be active at a time.
func (s *Server) reserve(runID string, cancel context.CancelFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.running) > 0 {
		return engine.ErrRunInProgress
	}
	s.running[runID] = cancel
	return nil
}

func (s *Server) release(runID string) {
	s.mu.Lock()
	delete(s.running, runID)
	s.mu.Unlock()
}

func (s *Server) cancelRunning(runID string) bool {
	s.mu.Lock()
	cancel, ok := s.running[runID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}
