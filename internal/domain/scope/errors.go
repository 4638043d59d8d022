package scope

import (
	"errors"
	"fmt"
)

// ErrContractUnavailable is returned by guard operations while no valid
// contract snapshot is installed (startup failure in fail-open mode, or a
// reload that never succeeded).
var ErrContractUnavailable = errors.New("no valid engagement contract loaded")

// ErrInvalidTarget is returned when a candidate target matches none of the
// recognized forms (URL, IP literal, domain).
var ErrInvalidTarget = errors.New("invalid target format")

// OutOfScopeError rejects one target with the rule that matched. Policy
// errors are surfaced to the caller and never retried.
type OutOfScopeError struct {
	Target      string
	Reason      string
	MatchedRule string
}

func (e *OutOfScopeError) Error() string {
	if e.MatchedRule != "" {
		return fmt.Sprintf("target %s out of scope: %s (%s)", e.Target, e.Reason, e.MatchedRule)
	}
	return fmt.Sprintf("target %s out of scope: %s", e.Target, e.Reason)
}

// BudgetKind classifies which ledger cap was breached.
type BudgetKind string

const (
	BudgetTotal       BudgetKind = "total"
	BudgetPerTarget   BudgetKind = "per_target"
	BudgetRate        BudgetKind = "rate"
	BudgetDuration    BudgetKind = "duration"
	BudgetConcurrency BudgetKind = "concurrency"
)

// BudgetExceededError reports a ledger cap breach. The attempted debit is
// rolled back before this is returned.
type BudgetExceededError struct {
	Kind    BudgetKind
	Host    string
	Current int
	Limit   int
}

func (e *BudgetExceededError) Error() string {
	if e.Host != "" {
		return fmt.Sprintf("budget exceeded (%s) for %s: %d/%d", e.Kind, e.Host, e.Current, e.Limit)
	}
	return fmt.Sprintf("budget exceeded (%s): %d/%d", e.Kind, e.Current, e.Limit)
}

// ApprovalDeniedError reports a gated action that policy refused.
type ApprovalDeniedError struct {
	Action string
	Reason string
	Rule   string
}

func (e *ApprovalDeniedError) Error() string {
	if e.Rule != "" {
		return fmt.Sprintf("action %s denied: %s (%s)", e.Action, e.Reason, e.Rule)
	}
	return fmt.Sprintf("action %s denied: %s", e.Action, e.Reason)
}

// TimeoutError marks a suspension point that exceeded its deadline.
type TimeoutError struct {
	Operation string
	Ms        int64
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation %s timed out after %dms", e.Operation, e.Ms)
}
