// Package webhook serves the hub's local HTTP API: health, replication
// status, a send endpoint, and Prometheus metrics.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/user/wahub/internal/metrics"
	"github.com/user/wahub/internal/outbox"
	"github.com/user/wahub/internal/types"
)

// Deps are the parts of the running hub the API reports on or drives.
// Nil fields disable the endpoints that need them.
type Deps struct {
	Submitter outbox.Submitter
	Cursor    func() int64
	Shards    func() []string
	Version   string
}

// Server is the chi-routed HTTP handler.
type Server struct {
	deps    Deps
	started time.Time
	router  chi.Router
}

// NewServer builds the router.
func NewServer(deps Deps) *Server {
	metrics.Init()
	if deps.Version == "" {
		deps.Version = "dev"
	}

	s := &Server{deps: deps, started: time.Now()}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware())
	r.Use(requestLoggingMiddleware())

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Post("/send", s.handleSend)
	r.Handle("/metrics", promhttp.Handler())

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Version   string   `json:"version"`
	StartedAt string   `json:"started_at"`
	UptimeSec int64    `json:"uptime_sec"`
	Since     *int64   `json:"since,omitempty"`
	Shards    []string `json:"shards"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Version:   s.deps.Version,
		StartedAt: s.started.Format(time.RFC3339),
		UptimeSec: int64(time.Since(s.started).Seconds()),
		Shards:    []string{},
	}
	if s.deps.Cursor != nil {
		since := s.deps.Cursor()
		resp.Since = &since
	}
	if s.deps.Shards != nil {
		if shards := s.deps.Shards(); shards != nil {
			resp.Shards = shards
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type sendResponse struct {
	ID     string `json:"id"`
	To     string `json:"to"`
	Status string `json:"status"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if s.deps.Submitter == nil {
		writeError(w, http.StatusServiceUnavailable, "send not configured")
		return
	}

	var req types.SendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := s.deps.Submitter.Submit(&req)
	if err != nil {
		slog.Warn("send rejected", "error", err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, sendResponse{ID: job.ID, To: job.To, Status: string(job.Status)})
}
