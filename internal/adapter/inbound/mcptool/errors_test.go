package mcptool

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ambit-sec/ambit/internal/domain/contract"
	"github.com/ambit-sec/ambit/internal/domain/scope"
	"github.com/ambit-sec/ambit/internal/domain/session"
	"github.com/ambit-sec/ambit/internal/port/outbound"
	"github.com/ambit-sec/ambit/pkg/wire"
)

func TestErrorEnvelopeMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want wire.Code
	}{
		{
			name: "out of scope",
			err:  &scope.OutOfScopeError{Target: "https://evil.example.org", Reason: "Domain not in allowlist"},
			want: wire.CodeOutOfScope,
		},
		{
			name: "budget exceeded",
			err:  &scope.BudgetExceededError{Kind: scope.BudgetPerTarget, Host: "api.example.com", Current: 25, Limit: 25},
			want: wire.CodeBudgetExceeded,
		},
		{
			name: "approval denied",
			err:  &scope.ApprovalDeniedError{Action: "nmap_scan", Reason: "operator denied"},
			want: wire.CodeApprovalDenied,
		},
		{
			name: "contract invalid",
			err:  &contract.ValidationError{Violations: []contract.Violation{{Path: "constraints.timeouts.total_ms", Message: "below minimum"}}},
			want: wire.CodeScopeValidationFailed,
		},
		{
			name: "contract unavailable",
			err:  scope.ErrContractUnavailable,
			want: wire.CodeScopeValidationFailed,
		},
		{
			name: "field not found",
			err:  &session.FieldNotFoundError{Field: "username", Form: "#login"},
			want: wire.CodeFieldNotFound,
		},
		{
			name: "session limit",
			err:  &session.SessionLimitError{Active: 5, Max: 5},
			want: wire.CodeSessionLimitExceeded,
		},
		{
			name: "proxy down",
			err:  &session.ProxyError{ProxyURL: "http://127.0.0.1:8080", Err: outbound.ErrProxyUnreachable},
			want: wire.CodeProxyConnectionFailed,
		},
		{
			name: "bare proxy sentinel",
			err:  fmt.Errorf("create session: %w", outbound.ErrProxyUnreachable),
			want: wire.CodeProxyConnectionFailed,
		},
		{
			name: "navigation failure",
			err:  &session.NavigationError{URL: "https://api.example.com", Err: errors.New("net::ERR_CONNECTION_RESET")},
			want: wire.CodeNavigationFailed,
		},
		{
			name: "navigation wrapping scope violation maps to the policy code",
			err:  &session.NavigationError{URL: "https://api.example.com", Err: &scope.OutOfScopeError{Target: "https://cdn.other.net", Reason: "Domain not in allowlist"}},
			want: wire.CodeOutOfScope,
		},
		{
			name: "action failure",
			err:  &session.ActionError{Reason: "oracle response missing selector", Payload: `{"actionType":"click"}`},
			want: wire.CodeActionFailed,
		},
		{
			name: "extraction failure",
			err:  &session.ExtractionError{Reason: "oracle returned HTTP 500"},
			want: wire.CodeExtractionFailed,
		},
		{
			name: "probe infrastructure failure",
			err:  &session.XSSProbeError{Reason: "page elements unavailable"},
			want: wire.CodeXSSTestFailed,
		},
		{
			name: "probe wrapping budget maps to the policy code",
			err:  &session.XSSProbeError{Reason: "payload 3", Err: &scope.BudgetExceededError{Kind: scope.BudgetRate, Current: 1, Limit: 1}},
			want: wire.CodeBudgetExceeded,
		},
		{
			name: "typed timeout",
			err:  &scope.TimeoutError{Operation: "navigate", Ms: 5000},
			want: wire.CodeTimeout,
		},
		{
			name: "context deadline",
			err:  fmt.Errorf("replay attempt: %w", context.DeadlineExceeded),
			want: wire.CodeTimeout,
		},
		{
			name: "session not found",
			err:  fmt.Errorf("%w: abc123", session.ErrSessionNotFound),
			want: wire.CodeSessionNotFound,
		},
		{
			name: "session closed",
			err:  session.ErrSessionClosed,
			want: wire.CodeSessionNotFound,
		},
		{
			name: "no active session",
			err:  session.ErrNoActiveSession,
			want: wire.CodeNoActiveSession,
		},
		{
			name: "unclassified",
			err:  errors.New("disk full"),
			want: wire.CodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := errorEnvelope(tt.err)
			if env.Code != tt.want {
				t.Errorf("errorEnvelope(%v) code = %s, want %s", tt.err, env.Code, tt.want)
			}
			if env.Message == "" {
				t.Error("envelope message is empty")
			}
		})
	}
}

func TestErrorEnvelopeDetails(t *testing.T) {
	t.Parallel()

	env := errorEnvelope(&scope.BudgetExceededError{Kind: scope.BudgetTotal, Current: 50, Limit: 50})
	if env.Details["kind"] != "total" || env.Details["current"] != 50 {
		t.Errorf("details = %v, want kind/current carried", env.Details)
	}

	env = errorEnvelope(&contract.ValidationError{Violations: []contract.Violation{
		{Path: "allowlist", Message: "at least one allowlist entry required"},
	}})
	violations, ok := env.Details["violations"].([]map[string]string)
	if !ok || len(violations) != 1 || violations[0]["path"] != "allowlist" {
		t.Errorf("details = %v, want rendered violations", env.Details)
	}

	env = errorEnvelope(&session.ActionError{Reason: "schema violation"})
	if env.Details != nil {
		t.Errorf("details = %v, want nil when the action error carries no payload", env.Details)
	}
}
