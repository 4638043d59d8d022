package scope

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/ambit-sec/ambit/internal/domain/contract"
	"github.com/ambit-sec/ambit/internal/port/outbound"
)

// snapshot pairs one contract revision with its compiled matcher. Readers
// hold one snapshot per call; Swap replaces the pointer atomically.
type snapshot struct {
	contract *contract.Contract
	matcher  *Matcher
}

// Guard is the scope authority: allow/deny per target, consumable budget,
// and approval policy, all answered against the current contract snapshot.
// Safe for concurrent use.
type Guard struct {
	snap      atomic.Pointer[snapshot]
	loadErr   atomic.Pointer[error]
	ledger    atomic.Pointer[Ledger]
	approvals approvalEngine

	// enforce=false short-circuits Validate to allow. Only for isolated
	// lab runs; the serve path logs loudly when off.
	enforce bool
}

// GuardOptions wires guard collaborators.
type GuardOptions struct {
	Rules    RuleEvaluator
	Approval outbound.ApprovalChannel
	// Enforce toggles scope validation. Defaults to on.
	Enforce *bool
}

// NewGuard builds a guard with no contract installed. Until the first
// successful Swap it answers deny-by-default.
func NewGuard(opts GuardOptions) *Guard {
	g := &Guard{
		approvals: approvalEngine{rules: opts.Rules, channel: opts.Approval},
		enforce:   true,
	}
	if opts.Enforce != nil {
		g.enforce = *opts.Enforce
	}
	return g
}

// Swap installs a new contract snapshot, preserving the budget ledger
// across reloads. Returns whether the content hash changed.
func (g *Guard) Swap(c *contract.Contract) (changed bool, err error) {
	m, err := NewMatcher(c)
	if err != nil {
		return false, fmt.Errorf("compile matcher: %w", err)
	}

	prev := g.snap.Load()
	changed = prev == nil || prev.contract.ContentHash != c.ContentHash

	if led := g.ledger.Load(); led == nil {
		g.ledger.Store(NewLedger(c.Constraints))
	} else {
		led.Reconfigure(c.Constraints)
	}

	g.snap.Store(&snapshot{contract: c, matcher: m})
	g.loadErr.Store(nil)
	return changed, nil
}

// SetUnavailable records a load failure without touching an existing
// snapshot. With no snapshot installed the guard is degraded: every
// decision denies and carries the stored error.
func (g *Guard) SetUnavailable(err error) {
	g.loadErr.Store(&err)
}

// Contract returns the current snapshot, or nil when degraded.
func (g *Guard) Contract() *contract.Contract {
	if s := g.snap.Load(); s != nil {
		return s.contract
	}
	return nil
}

// Enforcing reports whether scope validation is active.
func (g *Guard) Enforcing() bool { return g.enforce }

// LoadError returns the recorded load failure, nil when healthy.
func (g *Guard) LoadError() error {
	if p := g.loadErr.Load(); p != nil {
		return *p
	}
	return nil
}

func (g *Guard) current() (*snapshot, error) {
	s := g.snap.Load()
	if s == nil {
		if err := g.LoadError(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrContractUnavailable, err)
		}
		return nil, ErrContractUnavailable
	}
	return s, nil
}

// Validate answers allow/deny for one raw target. With enforcement off it
// always allows; degraded guards always deny with the load error attached.
func (g *Guard) Validate(target string) Decision {
	if !g.enforce {
		return Decision{Valid: true, Reason: "Scope validation disabled"}
	}
	s, err := g.current()
	if err != nil {
		return Decision{Valid: false, Reason: err.Error()}
	}
	return s.matcher.Decide(target)
}

// AssertInScope is Validate with a typed failure. Every side-effecting
// component calls this before touching a target.
func (g *Guard) AssertInScope(target string) error {
	d := g.Validate(target)
	if d.Valid {
		return nil
	}
	return &OutOfScopeError{Target: target, Reason: d.Reason, MatchedRule: d.MatchedRule}
}

// Authorize is the validate-then-consume pair used on every outbound
// operation: parse, assert in scope, then debit weight against the host.
// The returned target carries the parsed host for later refund.
func (g *Guard) Authorize(target string, weight int) (*Target, error) {
	t, err := ParseTarget(target)
	if err != nil {
		if !g.enforce {
			return &Target{Raw: target, Host: target}, nil
		}
		return nil, &OutOfScopeError{Target: target, Reason: "Invalid target format"}
	}
	if g.enforce {
		s, cerr := g.current()
		if cerr != nil {
			return nil, &OutOfScopeError{Target: target, Reason: cerr.Error()}
		}
		if d := s.matcher.DecideTarget(t); !d.Valid {
			return nil, &OutOfScopeError{Target: target, Reason: d.Reason, MatchedRule: d.MatchedRule}
		}
	}
	if err := g.Consume(t.Host, weight); err != nil {
		return nil, err
	}
	return t, nil
}

// Consume debits the budget ledger, fail-fast on rate exhaustion.
func (g *Guard) Consume(host string, weight int) error {
	led := g.ledger.Load()
	if led == nil {
		return ErrContractUnavailable
	}
	return led.Consume(host, weight)
}

// ConsumeWait debits the budget ledger, blocking on rate exhaustion only.
func (g *Guard) ConsumeWait(ctx context.Context, host string, weight int) error {
	led := g.ledger.Load()
	if led == nil {
		return ErrContractUnavailable
	}
	return led.ConsumeWait(ctx, host, weight)
}

// Refund rolls back a consumed debit for an operation cancelled before I/O.
func (g *Guard) Refund(host string, weight int) {
	if led := g.ledger.Load(); led != nil {
		led.Refund(host, weight)
	}
}

// EnterInFlight claims a concurrency slot; release must be called when the
// operation finishes.
func (g *Guard) EnterInFlight() (release func(), err error) {
	led := g.ledger.Load()
	if led == nil {
		return nil, ErrContractUnavailable
	}
	return led.EnterInFlight()
}

// Approval consults the approval policy for one action.
func (g *Guard) Approval(ctx context.Context, action string, details map[string]any) (ApprovalResult, error) {
	s, err := g.current()
	if err != nil {
		return ApprovalResult{
			Outcome: contract.ActionDeny,
			Reason:  err.Error(),
		}, nil
	}
	return g.approvals.Decide(ctx, s.contract, action, details)
}

// Status is the read-only guard state for operators.
type Status struct {
	Degraded     bool           `json:"degraded"`
	LoadError    string         `json:"load_error,omitempty"`
	Enforcing    bool           `json:"enforcing"`
	EngagementID string         `json:"engagement_id,omitempty"`
	ContractHash string         `json:"contract_hash,omitempty"`
	ApprovalMode string         `json:"approval_mode,omitempty"`
	Budget       BudgetSnapshot `json:"budget"`
}

// Status reports the current contract identity and ledger counters.
func (g *Guard) Status() Status {
	st := Status{Enforcing: g.enforce}
	if err := g.LoadError(); err != nil {
		st.LoadError = err.Error()
	}
	s := g.snap.Load()
	if s == nil {
		st.Degraded = true
		return st
	}
	st.EngagementID = s.contract.Identity.ID
	st.ContractHash = s.contract.ContentHash
	st.ApprovalMode = string(s.contract.ApprovalPolicy.Mode)
	if led := g.ledger.Load(); led != nil {
		st.Budget = led.Snapshot()
	}
	return st
}
