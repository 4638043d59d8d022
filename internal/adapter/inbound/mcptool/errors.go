package mcptool

import (
	"context"
	"encoding/json"
	"errors"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ambit-sec/ambit/internal/domain/contract"
	"github.com/ambit-sec/ambit/internal/domain/scope"
	"github.com/ambit-sec/ambit/internal/domain/session"
	"github.com/ambit-sec/ambit/internal/port/outbound"
	"github.com/ambit-sec/ambit/pkg/wire"
)

// errorEnvelope maps any error to its wire envelope. Typed domain errors
// carry their context into details; everything unrecognized becomes
// INTERNAL with the bare message. Match order follows unwrap depth: a
// navigation error wrapping a scope violation reports OUT_OF_SCOPE, so
// the inner policy types are tested first.
func errorEnvelope(err error) *wire.ErrorEnvelope {
	var (
		outOfScope    *scope.OutOfScopeError
		budget        *scope.BudgetExceededError
		denied        *scope.ApprovalDeniedError
		opTimeout     *scope.TimeoutError
		contractErr   *contract.ValidationError
		limit         *session.SessionLimitError
		proxyErr      *session.ProxyError
		fieldNotFound *session.FieldNotFoundError
		navErr        *session.NavigationError
		actErr        *session.ActionError
		extractErr    *session.ExtractionError
		probeErr      *session.XSSProbeError
	)

	switch {
	case errors.As(err, &outOfScope):
		return wire.Envelope(wire.CodeOutOfScope, err.Error(), map[string]any{
			"target":       outOfScope.Target,
			"reason":       outOfScope.Reason,
			"matched_rule": outOfScope.MatchedRule,
		})
	case errors.As(err, &budget):
		return wire.Envelope(wire.CodeBudgetExceeded, err.Error(), map[string]any{
			"kind":    string(budget.Kind),
			"host":    budget.Host,
			"current": budget.Current,
			"limit":   budget.Limit,
		})
	case errors.As(err, &denied):
		return wire.Envelope(wire.CodeApprovalDenied, err.Error(), map[string]any{
			"action": denied.Action,
			"rule":   denied.Rule,
		})
	case errors.As(err, &contractErr):
		return wire.Envelope(wire.CodeScopeValidationFailed, err.Error(), map[string]any{
			"violations": contractErr.Details(),
		})
	case errors.Is(err, scope.ErrContractUnavailable), errors.Is(err, scope.ErrInvalidTarget):
		return wire.Envelope(wire.CodeScopeValidationFailed, err.Error(), nil)
	case errors.As(err, &fieldNotFound):
		return wire.Envelope(wire.CodeFieldNotFound, err.Error(), map[string]any{
			"field": fieldNotFound.Field,
			"form":  fieldNotFound.Form,
		})
	case errors.As(err, &limit):
		return wire.Envelope(wire.CodeSessionLimitExceeded, err.Error(), map[string]any{
			"active": limit.Active,
			"max":    limit.Max,
		})
	case errors.As(err, &proxyErr):
		return wire.Envelope(wire.CodeProxyConnectionFailed, err.Error(), map[string]any{
			"proxy_url": proxyErr.ProxyURL,
		})
	case errors.Is(err, outbound.ErrProxyUnreachable):
		return wire.Envelope(wire.CodeProxyConnectionFailed, err.Error(), nil)
	case errors.As(err, &navErr):
		return wire.Envelope(wire.CodeNavigationFailed, err.Error(), map[string]any{
			"url": navErr.URL,
		})
	case errors.As(err, &actErr):
		details := map[string]any{}
		if actErr.Payload != "" {
			// Malformed oracle answers ride along for operator review.
			details["payload"] = actErr.Payload
		}
		return wire.Envelope(wire.CodeActionFailed, err.Error(), details)
	case errors.As(err, &extractErr):
		return wire.Envelope(wire.CodeExtractionFailed, err.Error(), nil)
	case errors.As(err, &probeErr):
		return wire.Envelope(wire.CodeXSSTestFailed, err.Error(), nil)
	case errors.As(err, &opTimeout):
		return wire.Envelope(wire.CodeTimeout, err.Error(), map[string]any{
			"operation": opTimeout.Operation,
			"ms":        opTimeout.Ms,
		})
	case errors.Is(err, context.DeadlineExceeded):
		return wire.Envelope(wire.CodeTimeout, err.Error(), nil)
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrSessionClosed):
		return wire.Envelope(wire.CodeSessionNotFound, err.Error(), nil)
	case errors.Is(err, session.ErrNoActiveSession):
		return wire.Envelope(wire.CodeNoActiveSession, err.Error(), nil)
	default:
		return wire.Envelope(wire.CodeInternal, err.Error(), nil)
	}
}

// fail renders err as an error tool result whose text content is the JSON
// envelope.
func (s *Server) fail(ctx context.Context, err error) *mcpsdk.CallToolResult {
	env := errorEnvelope(err)
	payload, merr := json.Marshal(env)
	if merr != nil {
		payload = []byte(`{"code":"INTERNAL","message":"error envelope encoding failed"}`)
	}
	s.loggerFrom(ctx).Warn("tool call failed", "code", env.Code, "error", err)
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(payload)}},
	}
}
