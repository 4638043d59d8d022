// Package session implements the browser session core: a bounded pool of
// proxy-pinned browser sessions with a strict per-session state machine,
// natural-language actions resolved through the page oracle, and the XSS
// probe engine. All target I/O is gated by the scope guard.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ambit-sec/ambit/internal/port/outbound"
)

// State is the session lifecycle state. READY is the only state operations
// may start from; CLOSED and FAILED are terminal.
type State string

const (
	StateInitializing State = "INITIALIZING"
	StateReady        State = "READY"
	StateNavigating   State = "NAVIGATING"
	StateActing       State = "ACTING"
	StateClosed       State = "CLOSED"
	StateFailed       State = "FAILED"
)

// Session is one live browser session. opMu serializes whole operations;
// mu guards the fields so snapshots never block behind driver I/O.
type Session struct {
	id           string
	engagementID string
	proxyURL     string
	headless     bool

	// opMu is held for the full duration of one operation.
	opMu sync.Mutex

	mu         sync.Mutex
	state      State
	page       outbound.Page
	createdAt  time.Time
	lastUsedAt time.Time
	currentURL string
	seq        int
}

// Snapshot is the read-only view of a session exposed across the API
// boundary. Driver handles never leave the manager.
type Snapshot struct {
	ID         string    `json:"session_id"`
	State      State     `json:"state"`
	CurrentURL string    `json:"current_url,omitempty"`
	ProxyURL   string    `json:"proxy_url"`
	Headless   bool      `json:"headless"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
}

func (s *Session) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:         s.id,
		State:      s.state,
		CurrentURL: s.currentURL,
		ProxyURL:   s.proxyURL,
		Headless:   s.headless,
		CreatedAt:  s.createdAt,
		LastUsedAt: s.lastUsedAt,
	}
}

func (s *Session) currentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) lastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsedAt
}

// begin transitions READY -> next and stamps lastUsedAt. Terminal states
// reject with their sentinel.
func (s *Session) begin(next State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateReady:
		s.state = next
		s.lastUsedAt = time.Now()
		return nil
	case StateClosed, StateFailed:
		return fmt.Errorf("%w: %s", ErrSessionClosed, s.id)
	default:
		return fmt.Errorf("session %s busy in state %s", s.id, s.state)
	}
}

// settle returns the session to READY after an operation.
func (s *Session) settle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateNavigating || s.state == StateActing {
		s.state = StateReady
	}
}

// fail marks the session terminally FAILED.
func (s *Session) fail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateClosed {
		s.state = StateFailed
	}
}

func (s *Session) setCurrentURL(u string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentURL = u
}

func (s *Session) getCurrentURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentURL
}

// nextSeq returns the next evidence counter value for this session.
func (s *Session) nextSeq() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

// terminalDriverFailure reports whether err means the page or its browser
// context is unusable for further operations.
func terminalDriverFailure(err error) bool {
	return errors.Is(err, outbound.ErrBrowserGone)
}

// closePage moves the session to CLOSED and closes the underlying page,
// tolerating one that never finished initializing.
func (s *Session) closePage(ctx context.Context) error {
	s.mu.Lock()
	page := s.page
	s.page = nil
	s.state = StateClosed
	s.mu.Unlock()
	if page == nil {
		return nil
	}
	return page.Close(ctx)
}
