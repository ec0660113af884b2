// Package api exposes the pipeline's health and readiness surface. It is
// deliberately small: the end-user event-republishing HTTP/WS API the
// teacher's internal/api.Server serves (positions, PnL, coaching, grant
// reports) has no counterpart here — a downstream consumer reads market
// data off the Redis pub/sub channel and hashes published by
// internal/cache, not through this server.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// AppState exposes just enough of the engine's lifecycle and per-exchange
// session health for a liveness/readiness probe to make a decision.
type AppState interface {
	IsRunning() bool
	ExchangeStates() map[string]string
	PublishFailures() int64
}

// Server is a lightweight HTTP server for container orchestration probes.
type Server struct {
	httpServer *http.Server
	appState   AppState
	startedAt  time.Time
}

// NewServer constructs a Server bound to addr. It does not start listening
// until Run is called.
func NewServer(addr string, appState AppState) *Server {
	s := &Server{appState: appState, startedAt: time.Now()}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/status", s.handleStatus)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// handleHealth always reports ok once the process is up; it does not
// depend on any collaborator.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports ready only once the engine's main loop is running.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.appState.IsRunning() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleStatus reports per-exchange session state and the running count of
// non-fatal cache publish failures, for a human dashboard or curl check.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"running":          s.appState.IsRunning(),
		"uptime_seconds":   time.Since(s.startedAt).Seconds(),
		"exchanges":        s.appState.ExchangeStates(),
		"publish_failures": s.appState.PublishFailures(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
