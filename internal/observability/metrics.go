// Package observability carries the process-wide metrics struct and the
// optional OpenTelemetry wiring. Everything here is injected; no package
// globals beyond the otel defaults.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ambit"

// Metrics holds every Prometheus metric the kernel records. Pass it to
// components that need to record; nil-safe helpers are deliberately
// absent, a component either gets metrics or it does not record.
type Metrics struct {
	ScopeDecisions        *prometheus.CounterVec
	BudgetRejections      *prometheus.CounterVec
	ApprovalRequests      *prometheus.CounterVec
	SessionsActive        prometheus.Gauge
	SessionOps            *prometheus.CounterVec
	OracleRequests        *prometheus.CounterVec
	OracleLatency         prometheus.Histogram
	XSSProbes             *prometheus.CounterVec
	ValidationRuns        *prometheus.CounterVec
	TargetRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		ScopeDecisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scope_decisions_total",
				Help:      "Scope decisions by outcome",
			},
			[]string{"decision"}, // decision=allow/deny
		),
		BudgetRejections: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "budget_rejections_total",
				Help:      "Budget ledger rejections by kind",
			},
			[]string{"kind"}, // kind=total/per_target/rate/concurrency/duration
		),
		ApprovalRequests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "approval_requests_total",
				Help:      "Approval requests by final outcome",
			},
			[]string{"outcome"}, // outcome=allow/deny/timeout
		),
		SessionsActive: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_active",
				Help:      "Live browser sessions",
			},
		),
		SessionOps: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_ops_total",
				Help:      "Browser session operations by outcome",
			},
			[]string{"op", "outcome"}, // op=navigate/act/extract/xss_probe/screenshot
		),
		OracleRequests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "oracle_requests_total",
				Help:      "Oracle calls by outcome",
			},
			[]string{"outcome"}, // outcome=ok/error
		),
		OracleLatency: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "oracle_latency_seconds",
				Help:      "Oracle call latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		XSSProbes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "xss_probes_total",
				Help:      "XSS probe payload outcomes",
			},
			[]string{"result"}, // result=executed/reflected/attribute_injection/none
		),
		ValidationRuns: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validation_runs_total",
				Help:      "Composite validation runs by recommendation",
			},
			[]string{"recommendation"}, // recommendation=promote/investigate/dismiss
		),
		TargetRequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "target_request_duration_seconds",
				Help:      "Target-bound request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"component"}, // component=browser/validator
		),
	}
}
