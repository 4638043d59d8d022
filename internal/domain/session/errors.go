package session

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned for unknown or evicted session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNoActiveSession is returned when a tool call omits the session id
	// and no live session exists to target.
	ErrNoActiveSession = errors.New("no active session")
	// ErrSessionClosed is returned for operations on a terminal session.
	ErrSessionClosed = errors.New("session closed")
)

// SessionLimitError rejects a create when the pool is full and no idle
// session can be evicted.
type SessionLimitError struct {
	Active int
	Max    int
}

func (e *SessionLimitError) Error() string {
	return fmt.Sprintf("session limit exceeded: %d/%d live sessions and none idle", e.Active, e.Max)
}

// ProxyError marks a session whose browser context could not reach the
// interception proxy. Terminal for the session.
type ProxyError struct {
	ProxyURL string
	Err      error
}

func (e *ProxyError) Error() string {
	return fmt.Sprintf("proxy %s unreachable: %v", e.ProxyURL, e.Err)
}

func (e *ProxyError) Unwrap() error { return e.Err }

// NavigationError is a recoverable navigation failure; the session returns
// to READY.
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigate %s failed: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// ActionError covers oracle and DOM failures while performing a
// natural-language action. Payload preserves a malformed oracle answer for
// operator review; such answers are never retried silently.
type ActionError struct {
	Reason  string
	Payload string
	Err     error
}

func (e *ActionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("action failed: %s: %v", e.Reason, e.Err)
	}
	return "action failed: " + e.Reason
}

func (e *ActionError) Unwrap() error { return e.Err }

// ExtractionError covers oracle failures while extracting page data.
type ExtractionError struct {
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction failed: %s: %v", e.Reason, e.Err)
	}
	return "extraction failed: " + e.Reason
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// XSSProbeError is an infrastructure failure during a probe run. Probe
// findings are data, not errors; this fires only when the run itself
// could not proceed.
type XSSProbeError struct {
	Reason string
	Err    error
}

func (e *XSSProbeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("xss probe failed: %s: %v", e.Reason, e.Err)
	}
	return "xss probe failed: " + e.Reason
}

func (e *XSSProbeError) Unwrap() error { return e.Err }

// FieldNotFoundError rejects a probe against a form field the page does
// not have.
type FieldNotFoundError struct {
	Field string
	Form  string
}

func (e *FieldNotFoundError) Error() string {
	return fmt.Sprintf("form field %q not found in %q", e.Field, e.Form)
}
