package integration

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/ambit-sec/ambit/internal/adapter/outbound/evidence"
	"github.com/ambit-sec/ambit/internal/adapter/outbound/history"
	"github.com/ambit-sec/ambit/internal/domain/scope"
	"github.com/ambit-sec/ambit/internal/domain/validation"
	"github.com/ambit-sec/ambit/internal/service"
)

// validationStack spins up a target server, a contract that allows exactly
// that server, and an engine persisting to sqlite history and file evidence.
func validationStack(t *testing.T, handler http.Handler) (*validation.Engine, *history.SQLiteStore, *service.ScopeService, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	t.Cleanup(srv.Client().CloseIdleConnections)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	allowlist := fmt.Sprintf("  ip_ranges: [\"127.0.0.0/8\"]\n  ports: [%s]\n", u.Port())
	svc, _ := writeContract(t, contractYAML("eng-validate", allowlist, ""))

	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"), testLogger())
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	sink, err := evidence.NewFileSink(t.TempDir(), evidence.NewRedactor(nil), testLogger())
	if err != nil {
		t.Fatalf("evidence sink: %v", err)
	}

	engine := validation.NewEngine(srv.Client(), svc.Guard(), store, sink, validation.EngineConfig{
		EngagementID:   "eng-validate",
		DefaultTimeout: 5 * time.Second,
	}, testLogger())
	return engine, store, svc, srv
}

func TestReproDeterministicServer(t *testing.T) {
	engine, _, _, srv := validationStack(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"token":"abc"}`)
	}))

	res, err := engine.RunRepro(context.Background(), validation.Finding{
		FindingID: "f-repro",
		Request:   validation.RequestSpec{Method: "GET", URL: srv.URL + "/api/token"},
	}, 3)
	if err != nil {
		t.Fatalf("repro: %v", err)
	}
	if res.SuccessRate != 1.0 {
		t.Errorf("success rate = %v, want 1.0", res.SuccessRate)
	}
	if !res.Consistent {
		t.Error("identical responses must score consistent")
	}
	if len(res.Attempts) != 3 {
		t.Fatalf("attempts = %d, want 3", len(res.Attempts))
	}
	for i, a := range res.Attempts {
		if !a.Matched || a.Status != http.StatusOK {
			t.Errorf("attempt %d = %+v, want matched 200", i, a)
		}
	}
}

func TestCrossIdentityViolationDetected(t *testing.T) {
	// Broken authorization: the server answers 200 to any bearer token.
	engine, _, _, srv := validationStack(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"role":"admin"}`)
	}))

	res, err := engine.RunCrossIdentity(context.Background(), validation.Finding{
		FindingID: "f-xid",
		Request:   validation.RequestSpec{Method: "GET", URL: srv.URL + "/admin"},
	}, []validation.IdentityProbe{
		{IdentityID: "admin", AuthType: validation.AuthBearer, AuthHeader: "Bearer admintoken", ShouldHaveAccess: true},
		{IdentityID: "guest", AuthType: validation.AuthBearer, AuthHeader: "Bearer guesttoken", ShouldHaveAccess: false},
	})
	if err != nil {
		t.Fatalf("cross identity: %v", err)
	}
	if len(res.Results) != 2 {
		t.Fatalf("results = %d, want one per identity", len(res.Results))
	}
	if res.AuthorizationEnforced {
		t.Error("guest got 200, authorization must read as not enforced")
	}
	wantViolation := "guest: Gained unauthorized access (status 200)"
	if len(res.Violations) != 1 || res.Violations[0] != wantViolation {
		t.Errorf("violations = %v, want [%q]", res.Violations, wantViolation)
	}
}

func TestCompositeValidatePersistsRun(t *testing.T) {
	// Authorization holds for anonymous callers but not between users:
	// both tokens reach the admin resource.
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if auth != "Bearer admintoken" && auth != "Bearer guesttoken" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"token":"abc"}`)
	})
	engine, store, _, srv := validationStack(t, handler)

	report, err := engine.Validate(context.Background(), validation.ValidateRequest{
		Finding: validation.Finding{
			FindingID: "f-composite",
			Request: validation.RequestSpec{
				Method:  "GET",
				URL:     srv.URL + "/admin/token",
				Headers: map[string]string{"Authorization": "Bearer admintoken"},
			},
		},
		ReproCount: 2,
		Control:    &validation.ControlSpec{Type: validation.ControlUnauthenticated, RemoveAuth: true},
		Identities: []validation.IdentityProbe{
			{IdentityID: "admin", AuthType: validation.AuthBearer, AuthHeader: "Bearer admintoken", ShouldHaveAccess: true},
			{IdentityID: "guest", AuthType: validation.AuthBearer, AuthHeader: "Bearer guesttoken", ShouldHaveAccess: false},
		},
	})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}

	if report.Repro == nil || report.Repro.SuccessRate != 1.0 {
		t.Errorf("repro = %+v, want full success", report.Repro)
	}
	if report.Control == nil || !report.Control.Passed {
		t.Errorf("control = %+v, want passed (401 without credentials)", report.Control)
	}
	if report.CrossID == nil || report.CrossID.AuthorizationEnforced {
		t.Errorf("cross identity = %+v, want violation corroborated", report.CrossID)
	}
	if report.Score.Recommendation != validation.RecommendPromote {
		t.Errorf("recommendation = %s (overall %v), want promote",
			report.Score.Recommendation, report.Score.Overall)
	}
	if report.EvidenceURI == "" {
		t.Error("validation trace should land in the evidence sink")
	}

	// Each sub-run lands its own append-only row; the composite row is last.
	runs, err := store.ByFinding(context.Background(), "f-composite")
	if err != nil {
		t.Fatalf("history query: %v", err)
	}
	wantKinds := []string{"repro", "negative_control", "cross_identity", "validate"}
	if len(runs) != len(wantKinds) {
		t.Fatalf("history rows = %d, want %d", len(runs), len(wantKinds))
	}
	for i, kind := range wantKinds {
		if runs[i].Kind != kind {
			t.Errorf("row %d kind = %q, want %q", i, runs[i].Kind, kind)
		}
	}
	last := runs[len(runs)-1]
	if last.RunID != report.RunID {
		t.Errorf("composite row run_id = %q, want %q", last.RunID, report.RunID)
	}
	if last.Recommendation != string(validation.RecommendPromote) {
		t.Errorf("recommendation column = %q", last.Recommendation)
	}
}

func TestValidationStopsAtBudgetCeiling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(srv.Client().CloseIdleConnections)
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}

	body := fmt.Sprintf(`schema_version: "1.0"
identity:
  id: eng-budget
allowlist:
  ip_ranges: ["127.0.0.0/8"]
  ports: [%s]
constraints:
  rate:
    rps: 100
    max_concurrent: 4
    burst: 100
  budget:
    max_total_requests: 2
    max_per_target: 2
    max_duration_hours: 8
  timeouts:
    connect_ms: 1000
    read_ms: 2000
    total_ms: 5000
approval_policy:
  mode: AUTO_APPROVE
`, u.Port())
	svc, _ := writeContract(t, body)

	engine := validation.NewEngine(srv.Client(), svc.Guard(), nil, nil, validation.EngineConfig{
		EngagementID:   "eng-budget",
		DefaultTimeout: 5 * time.Second,
	}, testLogger())

	_, err = engine.RunRepro(context.Background(), validation.Finding{
		FindingID: "f-budget",
		Request:   validation.RequestSpec{Method: "GET", URL: srv.URL + "/ping"},
	}, 3)
	var berr *scope.BudgetExceededError
	if !errors.As(err, &berr) {
		t.Fatalf("repro past budget = %v, want BudgetExceededError", err)
	}
	if berr.Kind != scope.BudgetTotal && berr.Kind != scope.BudgetPerTarget {
		t.Errorf("budget kind = %s", berr.Kind)
	}
}
