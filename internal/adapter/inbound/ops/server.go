// Package ops serves the optional loopback operations endpoint: liveness
// under /healthz, Prometheus metrics under /metrics, and the recent
// decision trail under /audit. The listener is off unless an address is
// configured; the MCP surface stays on stdio either way.
package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ambit-sec/ambit/internal/domain/audit"
	"github.com/ambit-sec/ambit/internal/service"
)

const shutdownTimeout = 10 * time.Second

// HealthResponse is the JSON body of /healthz.
type HealthResponse struct {
	Status  string            `json:"status"` // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version,omitempty"`
}

// Server is the ops HTTP listener. A degraded scope guard reports
// unhealthy: every tool call is being denied, which an orchestrator
// should see without calling a tool.
type Server struct {
	addr     string
	scope    *service.ScopeService
	sessions *service.SessionService
	registry *prometheus.Registry
	version  string
	logger   *slog.Logger
	server   *http.Server
}

// New creates an ops server. scope and sessions may be nil; their checks
// report "not configured".
func New(addr string, scope *service.ScopeService, sessions *service.SessionService, registry *prometheus.Registry, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:     addr,
		scope:    scope,
		sessions: sessions,
		registry: registry,
		version:  version,
		logger:   logger.With("component", "ops"),
	}
}

// check assembles the component health map.
func (s *Server) check() HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if s.scope != nil {
		st := s.scope.Status()
		switch {
		case st.Degraded && st.LoadError != "":
			checks["scope"] = "degraded: " + st.LoadError
			healthy = false
		case st.Degraded:
			checks["scope"] = "degraded: no contract installed"
			healthy = false
		default:
			checks["scope"] = "ok: " + st.EngagementID
		}
		if st.Stale {
			checks["contract"] = "stale: file changed on disk; reload to apply"
		} else if st.ContractHash != "" {
			checks["contract"] = "current: " + st.ContractHash
		}
	} else {
		checks["scope"] = "not configured"
	}

	if s.sessions != nil {
		checks["sessions"] = fmt.Sprintf("%d live", len(s.sessions.List()))
	} else {
		checks["sessions"] = "not configured"
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	return HealthResponse{Status: status, Checks: checks, Version: s.version}
}

// Handler returns the ops mux: /healthz, /metrics, and /audit.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := s.check()
		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(health)
	}))
	mux.Handle("/audit", http.HandlerFunc(s.handleAudit))
	if s.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
			Registry: s.registry,
		}))
	}
	return mux
}

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 500
)

// handleAudit returns the newest decision-trail records, newest first.
// ?n= bounds the count. Empty without a configured trail.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	n := defaultAuditLimit
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "n must be a positive integer", http.StatusBadRequest)
			return
		}
		n = parsed
	}
	if n > maxAuditLimit {
		n = maxAuditLimit
	}

	var records []audit.Record
	if s.scope != nil {
		records = s.scope.RecentDecisions(n)
	}
	if records == nil {
		records = []audit.Record{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"count":   len(records),
		"records": records,
	})
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("ops listener starting", "addr", s.addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("ops listener shutting down")
		return s.shutdown()
	case err := <-errCh:
		return err
	}
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("ops listener shutdown error", "error", err)
		return err
	}
	return nil
}
