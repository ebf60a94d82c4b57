// Package api provides the read-only HTTP status server for rendersync.
// It exposes the active run's snapshot, the run ledger and Prometheus
// metrics while a session is in progress.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rayvision-network/rendersync/internal/app/orchestrator"
	"github.com/rayvision-network/rendersync/internal/domain"
	"github.com/rayvision-network/rendersync/internal/health"
)

// RunSource reports the state of the active run.
type RunSource interface {
	Snapshot() orchestrator.Snapshot
}

// RunLister reads past runs from the ledger.
type RunLister interface {
	ListRuns(limit int) ([]domain.RunRecord, error)
}

// HealthSource reports component health.
type HealthSource interface {
	Statuses() []health.Status
	IsHealthy() bool
}

// Server is the rendersync status server.
type Server struct {
	mu             sync.RWMutex
	run            RunSource
	ledger         RunLister
	health         HealthSource
	metricsEnabled bool
}

// NewServer creates a new status server.
func NewServer() *Server {
	return &Server{}
}

// SetRun sets the run whose snapshot /api/run reports.
func (s *Server) SetRun(r RunSource) {
	s.mu.Lock()
	s.run = r
	s.mu.Unlock()
}

// SetLedger enables /api/runs.
func (s *Server) SetLedger(l RunLister) { s.ledger = l }

// SetHealth adds component checks to /health.
func (s *Server) SetHealth(h HealthSource) { s.health = h }

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/run", s.handleRun)
		r.Get("/runs", s.handleRuns)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	status, code := "ok", http.StatusOK
	if !s.health.IsHealthy() {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status": status,
		"checks": s.health.Statuses(),
	})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	run := s.run
	s.mu.RUnlock()
	if run == nil {
		writeError(w, http.StatusNotFound, "no run in progress")
		return
	}
	writeJSON(w, http.StatusOK, run.Snapshot())
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusNotFound, "ledger disabled")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := s.ledger.ListRuns(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []domain.RunRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}

// corsMiddleware lets local dashboards poll the status endpoints.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
