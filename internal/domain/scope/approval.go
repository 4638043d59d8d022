package scope

import (
	"context"
	"errors"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/ambit-sec/ambit/internal/domain/contract"
	"github.com/ambit-sec/ambit/internal/port/outbound"
)

// RuleEvaluator evaluates one action-rule condition over {action, details}.
// Implemented by the CEL rule adapter; defined here so the domain does not
// depend on the expression engine.
type RuleEvaluator interface {
	EvalRule(ctx context.Context, expr string, action string, details map[string]any) (bool, error)
}

// ApprovalResult is the terminal outcome of one approval consultation.
type ApprovalResult struct {
	Outcome contract.Action
	// Reason explains denials and escalations in operator terms.
	Reason string
	// Rule names the policy element that decided, when one did.
	Rule string
	// RequestID is set when an interactive request was emitted.
	RequestID string
}

// Allowed reports whether the action may proceed.
func (r ApprovalResult) Allowed() bool { return r.Outcome == contract.ActionAllow }

// Denied converts a deny outcome into its typed error, nil otherwise.
func (r ApprovalResult) Denied(action string) error {
	if r.Allowed() {
		return nil
	}
	return &ApprovalDeniedError{Action: action, Reason: r.Reason, Rule: r.Rule}
}

// approvalEngine decides gated actions: forbidden globs, policy mode, CEL
// rules, then the interactive channel wait. SG owns policy only; delivery
// is the channel collaborator's concern.
type approvalEngine struct {
	rules   RuleEvaluator
	channel outbound.ApprovalChannel
}

// Decide applies the policy in fixed order. The interactive wait is bounded
// by timeoutSec; expiry applies escalation.on_timeout, channel errors apply
// escalation.on_error, and parent cancellation aborts with ctx.Err().
func (e *approvalEngine) Decide(ctx context.Context, c *contract.Contract, action string, details map[string]any) (ApprovalResult, error) {
	policy := c.ApprovalPolicy

	// Forbidden actions deny in every mode.
	if pattern, ok := matchActionGlob(c.Actions.Forbidden, action); ok {
		return ApprovalResult{
			Outcome: contract.ActionDeny,
			Reason:  "Action is forbidden by contract",
			Rule:    "actions.forbidden: " + pattern,
		}, nil
	}

	switch policy.Mode {
	case contract.ModeDenyAll:
		return ApprovalResult{
			Outcome: contract.ActionDeny,
			Reason:  "Approval policy denies all actions",
			Rule:    "approval_policy.mode: DENY_ALL",
		}, nil
	case contract.ModeAutoApprove:
		return ApprovalResult{Outcome: contract.ActionAllow, Rule: "approval_policy.mode: AUTO_APPROVE"}, nil
	}

	// INTERACTIVE: figure out whether this action is gated.
	gated := false
	gateRule := ""
	if pattern, ok := matchActionGlob(c.Actions.RequiresApproval, action); ok {
		gated = true
		gateRule = "actions.requires_approval: " + pattern
	}
	if !gated {
		for _, rule := range c.Actions.Rules {
			hit, err := e.evalRule(ctx, rule, action, details)
			if err != nil {
				out := escalationAction(policy.Escalation.OnError, policy.DefaultAction)
				return ApprovalResult{
					Outcome: out,
					Reason:  "Action rule evaluation failed: " + err.Error(),
					Rule:    "actions.rules: " + rule.Name,
				}, nil
			}
			if !hit {
				continue
			}
			switch rule.Effect {
			case contract.EffectDeny:
				return ApprovalResult{
					Outcome: contract.ActionDeny,
					Reason:  "Action denied by rule",
					Rule:    "actions.rules: " + rule.Name,
				}, nil
			case contract.EffectAllow:
				return ApprovalResult{Outcome: contract.ActionAllow, Rule: "actions.rules: " + rule.Name}, nil
			case contract.EffectRequireApproval:
				gated = true
				gateRule = "actions.rules: " + rule.Name
			}
			break
		}
	}
	if !gated {
		return ApprovalResult{Outcome: contract.ActionAllow}, nil
	}

	return e.waitInteractive(ctx, policy, action, details, gateRule)
}

func (e *approvalEngine) evalRule(ctx context.Context, rule contract.ActionRule, action string, details map[string]any) (bool, error) {
	if e.rules == nil {
		return false, errors.New("no rule evaluator configured")
	}
	return e.rules.EvalRule(ctx, rule.When, action, details)
}

func (e *approvalEngine) waitInteractive(ctx context.Context, policy contract.ApprovalPolicy, action string, details map[string]any, gateRule string) (ApprovalResult, error) {
	if e.channel == nil {
		out := escalationAction(policy.Escalation.OnError, policy.DefaultAction)
		return ApprovalResult{
			Outcome: out,
			Reason:  "No approval channel configured",
			Rule:    gateRule,
		}, nil
	}

	timeout := time.Duration(policy.TimeoutSec) * time.Second
	now := time.Now()
	req := outbound.ApprovalRequest{
		ID:          uuid.NewString(),
		Action:      action,
		Details:     details,
		RequestedAt: now,
		ExpiresAt:   now.Add(timeout),
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	decision, err := e.channel.Request(waitCtx, req)
	switch {
	case ctx.Err() != nil:
		// Parent cancelled: the operation is aborted, not decided.
		return ApprovalResult{}, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded) || decision == outbound.ApprovalTimeout:
		out := escalationAction(policy.Escalation.OnTimeout, policy.DefaultAction)
		return ApprovalResult{
			Outcome:   out,
			Reason:    "Approval request timed out",
			Rule:      gateRule,
			RequestID: req.ID,
		}, nil
	case err != nil:
		out := escalationAction(policy.Escalation.OnError, policy.DefaultAction)
		return ApprovalResult{
			Outcome:   out,
			Reason:    "Approval channel error: " + err.Error(),
			Rule:      gateRule,
			RequestID: req.ID,
		}, nil
	case decision == outbound.ApprovalAllow:
		return ApprovalResult{Outcome: contract.ActionAllow, Rule: gateRule, RequestID: req.ID}, nil
	default:
		return ApprovalResult{
			Outcome:   contract.ActionDeny,
			Reason:    "Denied by operator",
			Rule:      gateRule,
			RequestID: req.ID,
		}, nil
	}
}

// escalationAction resolves an escalation entry with fallbacks: explicit
// entry, then policy default_action, then deny.
func escalationAction(esc, def contract.Action) contract.Action {
	if esc != "" {
		return esc
	}
	if def != "" {
		return def
	}
	return contract.ActionDeny
}

func matchActionGlob(patterns []string, action string) (string, bool) {
	for _, p := range patterns {
		if ok, err := path.Match(p, action); err == nil && ok {
			return p, true
		}
	}
	return "", false
}
