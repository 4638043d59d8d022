package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ambit-sec/ambit/internal/domain/session"
	"github.com/ambit-sec/ambit/internal/observability"
)

// SessionService fronts the session manager with metrics. Session
// semantics live entirely in the domain core; this layer observes.
type SessionService struct {
	manager *session.Manager
	metrics *observability.Metrics
	logger  *slog.Logger
}

func NewSessionService(manager *session.Manager, metrics *observability.Metrics, logger *slog.Logger) *SessionService {
	return &SessionService{
		manager: manager,
		metrics: metrics,
		logger:  logger.With("component", "session_service"),
	}
}

func (s *SessionService) Create(ctx context.Context) (session.Snapshot, error) {
	snap, err := s.manager.Create(ctx)
	s.record("create", err)
	return snap, err
}

func (s *SessionService) Navigate(ctx context.Context, id, rawURL string) (session.NavigateResult, error) {
	start := time.Now()
	res, err := s.manager.Navigate(ctx, id, rawURL)
	s.record("navigate", err)
	if s.metrics != nil && err == nil {
		s.metrics.TargetRequestDuration.WithLabelValues("browser").Observe(time.Since(start).Seconds())
	}
	return res, err
}

func (s *SessionService) Act(ctx context.Context, id, instruction string) (session.ActionOutcome, error) {
	out, err := s.manager.Act(ctx, id, instruction)
	s.record("act", err)
	return out, err
}

func (s *SessionService) Extract(ctx context.Context, id, instruction string) (json.RawMessage, error) {
	out, err := s.manager.Extract(ctx, id, instruction)
	s.record("extract", err)
	return out, err
}

func (s *SessionService) XSSProbe(ctx context.Context, id string, req session.XSSProbeRequest) (*session.XSSReport, error) {
	report, err := s.manager.XSSProbe(ctx, id, req)
	s.record("xss_probe", err)
	if s.metrics != nil && report != nil {
		s.observeProbe(report)
	}
	return report, err
}

func (s *SessionService) Screenshot(ctx context.Context, id string) (session.ScreenshotResult, error) {
	res, err := s.manager.Screenshot(ctx, id)
	s.record("screenshot", err)
	return res, err
}

func (s *SessionService) Close(ctx context.Context, id string) error {
	err := s.manager.Close(ctx, id)
	s.record("close", err)
	return err
}

// CloseAll tears down every live session; used on shutdown.
func (s *SessionService) CloseAll(ctx context.Context) {
	s.manager.CloseAll(ctx)
	if s.metrics != nil {
		s.metrics.SessionsActive.Set(float64(s.manager.Live()))
	}
}

func (s *SessionService) List() []session.Snapshot {
	return s.manager.List()
}

func (s *SessionService) record(op string, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.metrics.SessionOps.WithLabelValues(op, outcome).Inc()
	s.metrics.SessionsActive.Set(float64(s.manager.Live()))
}

func (s *SessionService) observeProbe(report *session.XSSReport) {
	hits := 0
	if n := len(report.Executed); n > 0 {
		s.metrics.XSSProbes.WithLabelValues("executed").Add(float64(n))
		hits += n
	}
	if n := len(report.Reflected); n > 0 {
		s.metrics.XSSProbes.WithLabelValues("reflected").Add(float64(n))
		hits += n
	}
	if n := len(report.AttributeInjection); n > 0 {
		s.metrics.XSSProbes.WithLabelValues("attribute_injection").Add(float64(n))
		hits += n
	}
	if hits == 0 {
		s.metrics.XSSProbes.WithLabelValues("none").Inc()
	}
}
