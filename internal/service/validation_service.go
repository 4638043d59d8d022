package service

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/ambit-sec/ambit/internal/domain/contract"
	"github.com/ambit-sec/ambit/internal/domain/validation"
	"github.com/ambit-sec/ambit/internal/observability"
)

// ValidationService fronts the validation engine with metrics and spans.
type ValidationService struct {
	engine  *validation.Engine
	metrics *observability.Metrics
	logger  *slog.Logger
}

func NewValidationService(engine *validation.Engine, metrics *observability.Metrics, logger *slog.Logger) *ValidationService {
	return &ValidationService{
		engine:  engine,
		metrics: metrics,
		logger:  logger.With("component", "validation_service"),
	}
}

func (s *ValidationService) Repro(ctx context.Context, f validation.Finding, count int) (*validation.ReproResult, error) {
	ctx, span := s.span(ctx, "ambit.validator/repro")
	defer span.End()
	return s.engine.RunRepro(ctx, f, count)
}

func (s *ValidationService) NegativeControl(ctx context.Context, f validation.Finding, spec validation.ControlSpec) (*validation.ControlResult, error) {
	ctx, span := s.span(ctx, "ambit.validator/negative_control")
	defer span.End()
	return s.engine.RunControl(ctx, f, spec)
}

func (s *ValidationService) CrossIdentity(ctx context.Context, f validation.Finding, identities []validation.IdentityProbe) (*validation.CrossIdentityResult, error) {
	ctx, span := s.span(ctx, "ambit.validator/cross_identity")
	defer span.End()
	return s.engine.RunCrossIdentity(ctx, f, identities)
}

// Score is pure; it never touches the network.
func (s *ValidationService) Score(repro *validation.ReproResult, control *validation.ControlResult, xid *validation.CrossIdentityResult) validation.ScoreResult {
	return validation.Score(repro, control, xid)
}

func (s *ValidationService) Validate(ctx context.Context, req validation.ValidateRequest) (*validation.ValidationReport, error) {
	ctx, span := s.span(ctx, "ambit.validator/validate")
	defer span.End()
	report, err := s.engine.Validate(ctx, req)
	if err == nil && s.metrics != nil {
		s.metrics.ValidationRuns.WithLabelValues(string(report.Score.Recommendation)).Inc()
	}
	return report, err
}

func (s *ValidationService) span(ctx context.Context, name string) (context.Context, trace.Span) {
	return observability.Tracer().Start(ctx, name)
}

// NewProxyClient builds the HTTP client for validator replays: every
// request rides through the interception proxy, redirects are returned
// raw so replays observe the status a finding actually produced, and the
// per-request deadline stays with the engine.
//
// TLS: with a proxy CA file the chain is verified against it; without one
// verification is off because the proxy re-signs every host.
func NewProxyClient(proxyURL string, t contract.Timeouts, caFile string, metrics *observability.Metrics) (*http.Client, error) {
	u, err := url.Parse(proxyURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("proxy url %q is not usable", proxyURL)
	}

	tlsCfg := &tls.Config{InsecureSkipVerify: true}
	if caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read proxy ca %s: %w", caFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("proxy ca %s holds no usable certificates", caFile)
		}
		tlsCfg = &tls.Config{RootCAs: pool}
	}

	connect := 10 * time.Second
	if t.ConnectMs > 0 {
		connect = time.Duration(t.ConnectMs) * time.Millisecond
	}
	read := 30 * time.Second
	if t.ReadMs > 0 {
		read = time.Duration(t.ReadMs) * time.Millisecond
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyURL(u),
		DialContext:           (&net.Dialer{Timeout: connect}).DialContext,
		TLSClientConfig:       tlsCfg,
		ResponseHeaderTimeout: read,
	}
	var rt http.RoundTripper = transport
	if metrics != nil {
		rt = &timedTransport{
			next:    transport,
			observe: metrics.TargetRequestDuration.WithLabelValues("validator"),
		}
	}
	return &http.Client{
		Transport: rt,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}, nil
}

// timedTransport records wall time per target request.
type timedTransport struct {
	next    http.RoundTripper
	observe prometheus.Observer
}

func (t *timedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	t.observe.Observe(time.Since(start).Seconds())
	return resp, err
}
