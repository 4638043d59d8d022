package service

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ambit-sec/ambit/internal/domain/scope"
	"github.com/ambit-sec/ambit/internal/domain/session"
	"github.com/ambit-sec/ambit/internal/observability"
	"github.com/ambit-sec/ambit/internal/port/outbound"
)

// stubPage satisfies the driver port with inert behavior; the service
// tests only exercise lifecycle accounting, not page semantics.
type stubPage struct{}

func (stubPage) Navigate(ctx context.Context, url string, onHop func(string) error) (outbound.NavResult, error) {
	return outbound.NavResult{FinalURL: url, StatusCode: 200}, nil
}
func (stubPage) Click(context.Context, string) error                { return nil }
func (stubPage) Fill(context.Context, string, string) error         { return nil }
func (stubPage) SelectOption(context.Context, string, string) error { return nil }
func (stubPage) Submit(context.Context, string) error               { return nil }
func (stubPage) CurrentURL(context.Context) (string, error)         { return "", nil }
func (stubPage) Text(context.Context) (string, error)               { return "", nil }
func (stubPage) Elements(context.Context) ([]outbound.PageElement, error) {
	return nil, nil
}
func (stubPage) Screenshot(context.Context) ([]byte, error) { return nil, nil }
func (stubPage) InspectMarker(context.Context, string) (outbound.MarkerSighting, error) {
	return outbound.MarkerSighting{}, nil
}
func (stubPage) DrainDialogs() []outbound.Dialog { return nil }
func (stubPage) DrainConsole() []string          { return nil }
func (stubPage) Close(context.Context) error     { return nil }

type stubDriver struct{ err error }

func (d stubDriver) NewPage(context.Context, outbound.PageOptions) (outbound.Page, error) {
	if d.err != nil {
		return nil, d.err
	}
	return stubPage{}, nil
}

func newSessionService(t *testing.T, driver outbound.BrowserDriver) (*SessionService, *observability.Metrics) {
	t.Helper()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	manager := session.NewManager(driver, nil, nil, scope.NewGuard(scope.GuardOptions{}), session.ManagerConfig{
		EngagementID: "eng-service-test",
		ProxyURL:     "http://127.0.0.1:18080",
		Headless:     true,
		MaxSessions:  2,
	}, testLogger())
	return NewSessionService(manager, metrics, testLogger()), metrics
}

func TestSessionServiceLifecycleAccounting(t *testing.T) {
	t.Parallel()

	svc, metrics := newSessionService(t, stubDriver{})
	ctx := context.Background()

	snap, err := svc.Create(ctx)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if got := testutil.ToFloat64(metrics.SessionOps.WithLabelValues("create", "ok")); got != 1 {
		t.Errorf("session_ops{create,ok} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.SessionsActive); got != 1 {
		t.Errorf("sessions_active = %v, want 1", got)
	}

	if listed := svc.List(); len(listed) != 1 || listed[0].ID != snap.ID {
		t.Errorf("List() = %+v, want the created session", listed)
	}

	if err := svc.Close(ctx, snap.ID); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if got := testutil.ToFloat64(metrics.SessionsActive); got != 0 {
		t.Errorf("sessions_active after close = %v, want 0", got)
	}
	if got := testutil.ToFloat64(metrics.SessionOps.WithLabelValues("close", "ok")); got != 1 {
		t.Errorf("session_ops{close,ok} = %v, want 1", got)
	}
}

func TestSessionServiceRecordsFailures(t *testing.T) {
	t.Parallel()

	svc, metrics := newSessionService(t, stubDriver{err: outbound.ErrProxyUnreachable})

	if _, err := svc.Create(context.Background()); err == nil {
		t.Fatal("Create() succeeded with a dead proxy driver")
	}
	if got := testutil.ToFloat64(metrics.SessionOps.WithLabelValues("create", "error")); got != 1 {
		t.Errorf("session_ops{create,error} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.SessionsActive); got != 0 {
		t.Errorf("sessions_active = %v, want 0", got)
	}
}
