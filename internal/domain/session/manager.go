package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ambit-sec/ambit/internal/domain/scope"
	"github.com/ambit-sec/ambit/internal/port/outbound"
)

// DefaultOpTimeout bounds operations when the contract carries no total
// timeout (degraded guard).
const DefaultOpTimeout = 30 * time.Second

// ManagerConfig carries process-level session settings.
type ManagerConfig struct {
	EngagementID string
	ProxyURL     string
	Headless     bool
	MaxSessions  int
	// DefaultTimeout is the per-operation deadline fallback.
	DefaultTimeout time.Duration
}

// Manager owns the session pool. Sessions are addressed by opaque ids; an
// empty id targets the most recently used live session.
type Manager struct {
	driver   outbound.BrowserDriver
	oracle   outbound.PageOracle
	evidence outbound.EvidenceSink
	guard    *scope.Guard
	cfg      ManagerConfig
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager wires the session core. The evidence sink receives
// screenshots and probe reports; the guard gates every target operation.
func NewManager(driver outbound.BrowserDriver, oracle outbound.PageOracle, evidence outbound.EvidenceSink, guard *scope.Guard, cfg ManagerConfig, logger *slog.Logger) *Manager {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 5
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultOpTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		driver:   driver,
		oracle:   oracle,
		evidence: evidence,
		guard:    guard,
		cfg:      cfg,
		logger:   logger.With("component", "session"),
		sessions: make(map[string]*Session),
	}
}

// Create allocates a proxy-pinned browser session. A full pool evicts the
// idle READY session with the oldest lastUsedAt; with none idle the create
// fails. Proxy unreachability is terminal for the new session.
func (m *Manager) Create(ctx context.Context) (Snapshot, error) {
	now := time.Now()
	s := &Session{
		id:           uuid.NewString(),
		engagementID: m.cfg.EngagementID,
		proxyURL:     m.cfg.ProxyURL,
		headless:     m.cfg.Headless,
		state:        StateInitializing,
		createdAt:    now,
		lastUsedAt:   now,
	}
	if err := m.reserveSlot(ctx, s); err != nil {
		return Snapshot{}, err
	}

	opCtx, cancel := context.WithTimeout(ctx, m.opTimeout())
	defer cancel()

	page, err := m.driver.NewPage(opCtx, outbound.PageOptions{
		ProxyURL: m.cfg.ProxyURL,
		Headless: m.cfg.Headless,
	})
	if err != nil {
		m.remove(s.id)
		s.fail()
		if errors.Is(err, outbound.ErrProxyUnreachable) {
			return Snapshot{}, &ProxyError{ProxyURL: m.cfg.ProxyURL, Err: err}
		}
		return Snapshot{}, fmt.Errorf("create session: %w", err)
	}

	s.mu.Lock()
	s.page = page
	s.state = StateReady
	s.mu.Unlock()

	m.logger.Info("session created", "session_id", s.id, "proxy", m.cfg.ProxyURL)
	return s.snapshot(), nil
}

func (m *Manager) reserveSlot(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sessions) >= m.cfg.MaxSessions {
		if !m.evictIdleLocked(ctx) {
			return &SessionLimitError{Active: len(m.sessions), Max: m.cfg.MaxSessions}
		}
	}
	m.sessions[s.id] = s
	return nil
}

// evictIdleLocked closes the READY session with the oldest lastUsedAt.
// Sessions mid-operation are skipped; TryLock keeps eviction from racing a
// transition that started after the state read.
func (m *Manager) evictIdleLocked(ctx context.Context) bool {
	var idle []*Session
	for _, s := range m.sessions {
		if s.currentState() == StateReady {
			idle = append(idle, s)
		}
	}
	sort.Slice(idle, func(i, j int) bool {
		return idle[i].lastUsed().Before(idle[j].lastUsed())
	})

	for _, victim := range idle {
		if !victim.opMu.TryLock() {
			continue
		}
		if err := victim.closePage(ctx); err != nil {
			m.logger.Warn("close evicted session", "session_id", victim.id, "error", err)
		}
		victim.opMu.Unlock()
		delete(m.sessions, victim.id)
		m.logger.Info("evicted idle session", "session_id", victim.id)
		return true
	}
	return false
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// resolve maps a session id to a live session. An empty id targets the
// most recently used live session.
func (m *Manager) resolve(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id != "" {
		s, ok := m.sessions[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return s, nil
	}
	var best *Session
	for _, s := range m.sessions {
		if best == nil || s.lastUsed().After(best.lastUsed()) {
			best = s
		}
	}
	if best == nil {
		return nil, ErrNoActiveSession
	}
	return best, nil
}

// withSession runs one serialized operation on a session with the contract
// deadline applied. Terminal driver failures fail and evict the session;
// everything else settles back to READY.
func (m *Manager) withSession(ctx context.Context, id string, busy State, opName string, fn func(ctx context.Context, s *Session) error) error {
	s, err := m.resolve(id)
	if err != nil {
		return err
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.begin(busy); err != nil {
		return err
	}

	timeout := m.opTimeout()
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err = fn(opCtx, s)
	if err != nil && terminalDriverFailure(err) {
		s.fail()
		m.remove(s.id)
		if cerr := s.closePage(context.WithoutCancel(ctx)); cerr != nil {
			m.logger.Warn("close failed session", "session_id", s.id, "error", cerr)
		}
		m.logger.Error("session failed", "session_id", s.id, "op", opName, "error", err)
		return err
	}

	s.settle()
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return &scope.TimeoutError{Operation: opName, Ms: timeout.Milliseconds()}
	}
	return err
}

// opTimeout derives the operation deadline from the contract's
// timeouts.total_ms, falling back to the configured default.
func (m *Manager) opTimeout() time.Duration {
	if c := m.guard.Contract(); c != nil && c.Constraints.Timeouts.TotalMs > 0 {
		return time.Duration(c.Constraints.Timeouts.TotalMs) * time.Millisecond
	}
	return m.cfg.DefaultTimeout
}

// NavigateResult is the terminal state of one navigation.
type NavigateResult struct {
	SessionID  string `json:"session_id"`
	FinalURL   string `json:"final_url"`
	StatusCode int    `json:"status_code"`
}

// Navigate validates and debits the target, then drives the page there.
// Every redirect hop is re-validated before it is followed; a hop out of
// scope aborts the navigation with the scope violation, not a silent
// follow.
func (m *Manager) Navigate(ctx context.Context, id, rawURL string) (NavigateResult, error) {
	var out NavigateResult
	err := m.withSession(ctx, id, StateNavigating, "navigate", func(ctx context.Context, s *Session) error {
		if _, err := m.guard.Authorize(rawURL, 1); err != nil {
			return err
		}

		res, err := s.page.Navigate(ctx, rawURL, func(hop string) error {
			return m.guard.AssertInScope(hop)
		})
		if err != nil {
			var oos *scope.OutOfScopeError
			switch {
			case errors.As(err, &oos),
				errors.Is(err, context.DeadlineExceeded),
				terminalDriverFailure(err):
				return err
			default:
				return &NavigationError{URL: rawURL, Err: err}
			}
		}

		s.setCurrentURL(res.FinalURL)
		out = NavigateResult{SessionID: s.id, FinalURL: res.FinalURL, StatusCode: res.StatusCode}
		return nil
	})
	return out, err
}

// ActionOutcome reports one executed natural-language action.
type ActionOutcome struct {
	SessionID    string     `json:"session_id"`
	SelectorUsed string     `json:"selector_used"`
	ActionType   ActionType `json:"action_type"`
	Succeeded    bool       `json:"succeeded"`
	PostURL      string     `json:"post_url,omitempty"`
}

// Act resolves a natural-language instruction through the page oracle and
// executes the returned plan against the DOM. The current page host is
// re-validated and debited: DOM actions are target I/O.
func (m *Manager) Act(ctx context.Context, id, instruction string) (ActionOutcome, error) {
	var out ActionOutcome
	err := m.withSession(ctx, id, StateActing, "act", func(ctx context.Context, s *Session) error {
		current := s.getCurrentURL()
		if current == "" {
			return &ActionError{Reason: "session has no page loaded"}
		}
		if _, err := m.guard.Authorize(current, 1); err != nil {
			return err
		}

		text, err := s.page.Text(ctx)
		if err != nil {
			return passthroughOr(err, &ActionError{Reason: "read page text", Err: err})
		}
		elements, err := s.page.Elements(ctx)
		if err != nil {
			return passthroughOr(err, &ActionError{Reason: "enumerate page elements", Err: err})
		}

		raw, err := m.oracle.Analyze(ctx, outbound.OracleRequest{
			Task:         instruction,
			PageText:     truncate(text, actionTextLimit),
			Elements:     elements,
			AnswerFormat: actionAnswerFormat,
		})
		if err != nil {
			return passthroughOr(err, &ActionError{Reason: "oracle request failed", Err: err})
		}
		plan, err := ParseActionPlan(raw)
		if err != nil {
			return err
		}

		switch plan.ActionType {
		case ActionClick:
			err = s.page.Click(ctx, plan.Selector)
		case ActionFill:
			err = s.page.Fill(ctx, plan.Selector, plan.Value)
		case ActionSelect:
			err = s.page.SelectOption(ctx, plan.Selector, plan.Value)
		}
		if err != nil {
			return passthroughOr(err, &ActionError{
				Reason: fmt.Sprintf("%s on %q failed", plan.ActionType, plan.Selector),
				Err:    err,
			})
		}

		post, perr := s.page.CurrentURL(ctx)
		if perr != nil || post == "" {
			post = current
		}
		s.setCurrentURL(post)
		out = ActionOutcome{
			SessionID:    s.id,
			SelectorUsed: plan.Selector,
			ActionType:   plan.ActionType,
			Succeeded:    true,
			PostURL:      post,
		}
		return nil
	})
	return out, err
}

// Extract asks the oracle to pull structured data from the current page.
// Read-only: the page host is re-validated but no budget is consumed.
func (m *Manager) Extract(ctx context.Context, id, instruction string) (json.RawMessage, error) {
	var out json.RawMessage
	err := m.withSession(ctx, id, StateActing, "extract", func(ctx context.Context, s *Session) error {
		current := s.getCurrentURL()
		if current == "" {
			return &ExtractionError{Reason: "session has no page loaded"}
		}
		if err := m.guard.AssertInScope(current); err != nil {
			return err
		}

		text, err := s.page.Text(ctx)
		if err != nil {
			return passthroughOr(err, &ExtractionError{Reason: "read page text", Err: err})
		}
		elements, err := s.page.Elements(ctx)
		if err != nil {
			return passthroughOr(err, &ExtractionError{Reason: "enumerate page elements", Err: err})
		}

		raw, err := m.oracle.Analyze(ctx, outbound.OracleRequest{
			Task:         instruction,
			PageText:     truncate(text, extractTextLimit),
			Elements:     elements,
			AnswerFormat: extractionAnswerFormat,
		})
		if err != nil {
			return passthroughOr(err, &ExtractionError{Reason: "oracle request failed", Err: err})
		}
		out = ParseExtraction(raw)
		return nil
	})
	return out, err
}

// ScreenshotResult carries the evidence URI of a stored capture.
type ScreenshotResult struct {
	SessionID string `json:"session_id"`
	URI       string `json:"uri"`
}

// Screenshot captures the page and stores it through the evidence sink
// under {engagement, session, counter}.
func (m *Manager) Screenshot(ctx context.Context, id string) (ScreenshotResult, error) {
	var out ScreenshotResult
	err := m.withSession(ctx, id, StateActing, "screenshot", func(ctx context.Context, s *Session) error {
		png, err := s.page.Screenshot(ctx)
		if err != nil {
			return passthroughOr(err, fmt.Errorf("capture screenshot: %w", err))
		}

		uri, err := m.evidence.Store(ctx, outbound.EvidenceKey{
			EngagementID: m.cfg.EngagementID,
			SessionID:    s.id,
			Seq:          s.nextSeq(),
			Kind:         outbound.EvidenceScreenshot,
			Ext:          "png",
		}, png, outbound.EvidenceMeta{"url": s.getCurrentURL()})
		if err != nil {
			return fmt.Errorf("store screenshot: %w", err)
		}
		out = ScreenshotResult{SessionID: s.id, URI: uri}
		return nil
	})
	return out, err
}

// Close tears down a session. Idempotent: closing an unknown or already
// closed session is a no-op. An empty id closes the most recently used
// live session, when one exists.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	var s *Session
	if id != "" {
		s = m.sessions[id]
	} else {
		for _, cand := range m.sessions {
			if s == nil || cand.lastUsed().After(s.lastUsed()) {
				s = cand
			}
		}
	}
	if s != nil {
		delete(m.sessions, s.id)
	}
	m.mu.Unlock()

	if s == nil {
		return nil
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()
	if err := s.closePage(ctx); err != nil {
		m.logger.Warn("close session page", "session_id", s.id, "error", err)
	}
	m.logger.Info("session closed", "session_id", s.id)
	return nil
}

// CloseAll tears down every live session. Used on serve shutdown.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range all {
		s.opMu.Lock()
		if err := s.closePage(ctx); err != nil {
			m.logger.Warn("close session page", "session_id", s.id, "error", err)
		}
		s.opMu.Unlock()
	}
}

// List returns snapshots of every live session, oldest first.
func (m *Manager) List() []Snapshot {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	out := make([]Snapshot, 0, len(all))
	for _, s := range all {
		out = append(out, s.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Live returns the number of pooled sessions.
func (m *Manager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// passthroughOr returns err unchanged when it must keep its identity
// (deadline, terminal driver failure), otherwise the typed wrapper.
func passthroughOr(err error, wrapped error) error {
	if errors.Is(err, context.DeadlineExceeded) || terminalDriverFailure(err) {
		return err
	}
	return wrapped
}
