package observability

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestNewMetricsRegistersEverything(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	if m.ScopeDecisions == nil {
		t.Error("ScopeDecisions not initialized")
	}
	if m.BudgetRejections == nil {
		t.Error("BudgetRejections not initialized")
	}
	if m.ApprovalRequests == nil {
		t.Error("ApprovalRequests not initialized")
	}
	if m.SessionsActive == nil {
		t.Error("SessionsActive not initialized")
	}
	if m.SessionOps == nil {
		t.Error("SessionOps not initialized")
	}
	if m.OracleRequests == nil {
		t.Error("OracleRequests not initialized")
	}
	if m.OracleLatency == nil {
		t.Error("OracleLatency not initialized")
	}
	if m.XSSProbes == nil {
		t.Error("XSSProbes not initialized")
	}
	if m.ValidationRuns == nil {
		t.Error("ValidationRuns not initialized")
	}
	if m.TargetRequestDuration == nil {
		t.Error("TargetRequestDuration not initialized")
	}
}

func TestMetricsRecording(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ScopeDecisions.WithLabelValues("allow").Inc()
	m.ScopeDecisions.WithLabelValues("allow").Inc()
	if got := testutil.ToFloat64(m.ScopeDecisions.WithLabelValues("allow")); got != 2 {
		t.Errorf("ScopeDecisions{allow} = %v, want 2", got)
	}

	m.SessionsActive.Set(3)
	if got := testutil.ToFloat64(m.SessionsActive); got != 3 {
		t.Errorf("SessionsActive = %v, want 3", got)
	}

	m.SessionOps.WithLabelValues("navigate", "ok").Inc()
	if got := testutil.ToFloat64(m.SessionOps.WithLabelValues("navigate", "ok")); got != 1 {
		t.Errorf("SessionOps{navigate,ok} = %v, want 1", got)
	}

	m.OracleLatency.Observe(0.25)
	m.TargetRequestDuration.WithLabelValues("validator").Observe(0.05)

	gathered, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	var latency, duration *dto.MetricFamily
	for _, mf := range gathered {
		name := mf.GetName()
		if !strings.HasPrefix(name, "ambit_") {
			t.Errorf("metric %q is outside the ambit namespace", name)
		}
		switch name {
		case "ambit_oracle_latency_seconds":
			latency = mf
		case "ambit_target_request_duration_seconds":
			duration = mf
		}
	}
	if latency == nil {
		t.Fatal("oracle latency histogram not gathered")
	}
	if got := latency.GetMetric()[0].GetHistogram().GetSampleCount(); got != 1 {
		t.Errorf("oracle latency sample count = %d, want 1", got)
	}
	if duration == nil {
		t.Fatal("target request duration histogram not gathered")
	}
	sample := duration.GetMetric()[0]
	if got := sample.GetHistogram().GetSampleCount(); got != 1 {
		t.Errorf("target request duration sample count = %d, want 1", got)
	}
	var component string
	for _, lp := range sample.GetLabel() {
		if lp.GetName() == "component" {
			component = lp.GetValue()
		}
	}
	if component != "validator" {
		t.Errorf("component label = %q, want validator", component)
	}
}

func TestNewMetricsSeparateRegistries(t *testing.T) {
	t.Parallel()

	// Two components with their own registries must not collide.
	a := NewMetrics(prometheus.NewRegistry())
	b := NewMetrics(prometheus.NewRegistry())
	a.ScopeDecisions.WithLabelValues("deny").Inc()
	if got := testutil.ToFloat64(b.ScopeDecisions.WithLabelValues("deny")); got != 0 {
		t.Errorf("registries shared state: got %v", got)
	}
}
