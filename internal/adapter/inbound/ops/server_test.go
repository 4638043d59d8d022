package ops

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/goleak"

	"github.com/ambit-sec/ambit/internal/domain/audit"
	"github.com/ambit-sec/ambit/internal/domain/scope"
	"github.com/ambit-sec/ambit/internal/observability"
	"github.com/ambit-sec/ambit/internal/service"
)

const opsContractYAML = `
schema_version: "1.0"
identity:
  id: eng-ops-test
allowlist:
  domains: ["api.example.com"]
  ports: [443]
constraints:
  rate:
    rps: 100
    max_concurrent: 4
    burst: 100
  budget:
    max_total_requests: 50
    max_per_target: 25
    max_duration_hours: 8
  timeouts:
    connect_ms: 1000
    read_ms: 2000
    total_ms: 5000
approval_policy:
  mode: AUTO_APPROVE
`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func loadedScopeService(t *testing.T) *service.ScopeService {
	t.Helper()
	path := filepath.Join(t.TempDir(), "contract.yaml")
	if err := os.WriteFile(path, []byte(opsContractYAML), 0600); err != nil {
		t.Fatalf("write contract: %v", err)
	}
	svc := service.NewScopeService(scope.NewGuard(scope.GuardOptions{}), path, nil, testLogger())
	if err := svc.Load(); err != nil {
		t.Fatalf("load contract: %v", err)
	}
	return svc
}

func TestHealthzHealthy(t *testing.T) {
	t.Parallel()

	srv := New("127.0.0.1:0", loadedScopeService(t), nil, nil, "1.2.3", testLogger())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /healthz status = %d, want %d", rec.Code, http.StatusOK)
	}
	var health HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode health response: %v", err)
	}
	if health.Status != "healthy" {
		t.Errorf("status = %q, want healthy", health.Status)
	}
	if health.Version != "1.2.3" {
		t.Errorf("version = %q, want 1.2.3", health.Version)
	}
	if health.Checks["scope"] != "ok: eng-ops-test" {
		t.Errorf("scope check = %q, want ok with the engagement id", health.Checks["scope"])
	}
	if !strings.HasPrefix(health.Checks["contract"], "current:") {
		t.Errorf("contract check = %q, want current with the content hash", health.Checks["contract"])
	}
	if health.Checks["sessions"] != "not configured" {
		t.Errorf("sessions check = %q, want not configured", health.Checks["sessions"])
	}
}

func TestHealthzDegradedScope(t *testing.T) {
	t.Parallel()

	// A guard that never loaded a contract denies everything; the health
	// endpoint surfaces that as unhealthy.
	svc := service.NewScopeService(scope.NewGuard(scope.GuardOptions{}), "/nonexistent/contract.yaml", nil, testLogger())
	srv := New("127.0.0.1:0", svc, nil, nil, "", testLogger())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("GET /healthz status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	var health HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode health response: %v", err)
	}
	if health.Status != "unhealthy" {
		t.Errorf("status = %q, want unhealthy", health.Status)
	}
	if !strings.HasPrefix(health.Checks["scope"], "degraded") {
		t.Errorf("scope check = %q, want degraded", health.Checks["scope"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	metrics.ScopeDecisions.WithLabelValues("allow").Inc()

	srv := New("127.0.0.1:0", nil, nil, registry, "", testLogger())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics status = %d, want %d", rec.Code, http.StatusOK)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "ambit_scope_decisions_total") {
		t.Error("metrics output does not expose ambit_scope_decisions_total")
	}
}

func TestMetricsRouteAbsentWithoutRegistry(t *testing.T) {
	t.Parallel()

	srv := New("127.0.0.1:0", nil, nil, nil, "", testLogger())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("GET /metrics status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestStartStopsOnContextCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := New("127.0.0.1:0", nil, nil, nil, "", testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v, want clean shutdown", err)
	}
}

// opsTrail is a minimal in-memory audit.Trail for endpoint tests.
type opsTrail struct {
	records []audit.Record
}

func (o *opsTrail) Append(_ context.Context, records ...audit.Record) error {
	o.records = append(o.records, records...)
	return nil
}

func (o *opsTrail) Recent(n int) []audit.Record {
	if n > len(o.records) {
		n = len(o.records)
	}
	out := make([]audit.Record, n)
	for i := 0; i < n; i++ {
		out[i] = o.records[len(o.records)-1-i]
	}
	return out
}

func (o *opsTrail) Flush(context.Context) error { return nil }
func (o *opsTrail) Close() error                { return nil }

func auditedScopeService(t *testing.T) (*service.ScopeService, *opsTrail) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "contract.yaml")
	if err := os.WriteFile(path, []byte(opsContractYAML), 0600); err != nil {
		t.Fatalf("write contract: %v", err)
	}
	trail := &opsTrail{}
	svc := service.NewScopeService(scope.NewGuard(scope.GuardOptions{}), path, nil, testLogger(),
		service.WithAuditTrail(trail))
	if err := svc.Load(); err != nil {
		t.Fatalf("load contract: %v", err)
	}
	return svc, trail
}

func TestAuditEndpoint(t *testing.T) {
	t.Parallel()

	svc, _ := auditedScopeService(t)
	svc.Validate("https://api.example.com/a")
	svc.Validate("https://outside.example.net/")
	srv := New("127.0.0.1:0", svc, nil, nil, "", testLogger())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /audit status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body struct {
		Count   int            `json:"count"`
		Records []audit.Record `json:"records"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode audit response: %v", err)
	}
	// Contract install plus two validates, newest first.
	if body.Count != 3 || len(body.Records) != 3 {
		t.Fatalf("count = %d with %d records, want 3", body.Count, len(body.Records))
	}
	if body.Records[0].Target != "https://outside.example.net/" || body.Records[0].Decision != "deny" {
		t.Errorf("newest record = %+v, want the denied validate", body.Records[0])
	}
	if body.Records[2].Kind != audit.KindContract {
		t.Errorf("oldest record kind = %q, want contract", body.Records[2].Kind)
	}
}

func TestAuditEndpointLimit(t *testing.T) {
	t.Parallel()

	svc, _ := auditedScopeService(t)
	for i := 0; i < 5; i++ {
		svc.Validate("https://api.example.com/x")
	}
	srv := New("127.0.0.1:0", svc, nil, nil, "", testLogger())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit?n=2", nil))
	var body struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode audit response: %v", err)
	}
	if body.Count != 2 {
		t.Errorf("count = %d, want 2", body.Count)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit?n=zero", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("GET /audit?n=zero status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestAuditEndpointWithoutTrail(t *testing.T) {
	t.Parallel()

	srv := New("127.0.0.1:0", loadedScopeService(t), nil, nil, "", testLogger())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /audit status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), `"records":[]`) {
		t.Errorf("body = %s, want an empty records array", rec.Body.String())
	}
}
