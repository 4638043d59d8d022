package validation

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ambit-sec/ambit/internal/domain/contract"
	"github.com/ambit-sec/ambit/internal/domain/scope"
	"github.com/ambit-sec/ambit/internal/port/outbound"
)

// recordingHandler wraps a handler and keeps every request it served.
type recordingHandler struct {
	mu      sync.Mutex
	serve   http.HandlerFunc
	headers []http.Header
	bodies  []string
	paths   []string
}

func (h *recordingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	h.mu.Lock()
	h.headers = append(h.headers, r.Header.Clone())
	h.bodies = append(h.bodies, string(body))
	h.paths = append(h.paths, r.URL.Path)
	h.mu.Unlock()
	if h.serve != nil {
		h.serve(w, r)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *recordingHandler) requests(t *testing.T) []http.Header {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]http.Header(nil), h.headers...)
}

type fakeHistory struct {
	mu   sync.Mutex
	rows []outbound.ValidationRun
	err  error
}

var _ outbound.HistoryStore = (*fakeHistory)(nil)

func (h *fakeHistory) Append(ctx context.Context, run outbound.ValidationRun) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.rows = append(h.rows, run)
	return nil
}

func (h *fakeHistory) ByFinding(ctx context.Context, findingID string) ([]outbound.ValidationRun, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []outbound.ValidationRun
	for _, r := range h.rows {
		if r.FindingID == findingID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (h *fakeHistory) Close() error { return nil }

func (h *fakeHistory) kinds(t *testing.T) []string {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.rows))
	for _, r := range h.rows {
		out = append(out, r.Kind)
	}
	return out
}

type storedTrace struct {
	key  outbound.EvidenceKey
	data []byte
	meta outbound.EvidenceMeta
}

type fakeTraceSink struct {
	mu     sync.Mutex
	stored []storedTrace
}

var _ outbound.EvidenceSink = (*fakeTraceSink)(nil)

func (s *fakeTraceSink) Store(ctx context.Context, key outbound.EvidenceKey, data []byte, meta outbound.EvidenceMeta) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stored = append(s.stored, storedTrace{key: key, data: append([]byte(nil), data...), meta: meta})
	return "evidence://" + key.EngagementID + "/" + key.SessionID + "/" + key.Kind, nil
}

func (s *fakeTraceSink) artifacts() []storedTrace {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storedTrace(nil), s.stored...)
}

func validationContract() *contract.Contract {
	c := &contract.Contract{
		SchemaVersion: "1.0",
		Identity:      contract.Identity{ID: "eng-validate-test"},
		Allowlist: contract.Allowlist{
			IPRanges: []string{"127.0.0.0/8"},
		},
		Constraints: contract.Constraints{
			Rate:   contract.Rate{RPS: 1000, MaxConcurrent: 8, Burst: 1000},
			Budget: contract.Budget{MaxTotalRequests: 200, MaxPerTarget: 100, MaxDurationHours: 8},
		},
		ApprovalPolicy: contract.ApprovalPolicy{Mode: contract.ModeAutoApprove},
		ContentHash:    "beadfeed0badcafe",
	}
	c.Normalize()
	return c
}

type validationEnv struct {
	engine  *Engine
	server  *httptest.Server
	handler *recordingHandler
	guard   *scope.Guard
	history *fakeHistory
	sink    *fakeTraceSink
}

func newValidationEnv(t *testing.T, c *contract.Contract, serve http.HandlerFunc) *validationEnv {
	t.Helper()
	handler := &recordingHandler{serve: serve}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	if c == nil {
		c = validationContract()
	}
	g := scope.NewGuard(scope.GuardOptions{})
	if _, err := g.Swap(c); err != nil {
		t.Fatalf("install contract: %v", err)
	}

	env := &validationEnv{
		server:  srv,
		handler: handler,
		guard:   g,
		history: &fakeHistory{},
		sink:    &fakeTraceSink{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env.engine = NewEngine(srv.Client(), g, env.history, env.sink,
		EngineConfig{EngagementID: "eng-validate-test"}, logger)
	return env
}

func (e *validationEnv) finding(path string) Finding {
	return Finding{
		FindingID: "finding-001",
		Title:     "test finding",
		Request:   RequestSpec{Method: http.MethodGet, URL: e.server.URL + path},
	}
}
