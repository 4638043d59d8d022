// Package service wires the domain cores to their collaborators and
// records operational metrics around every externally-visible operation.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ambit-sec/ambit/internal/ctxkey"
	"github.com/ambit-sec/ambit/internal/domain/audit"
	"github.com/ambit-sec/ambit/internal/domain/contract"
	"github.com/ambit-sec/ambit/internal/domain/scope"
	"github.com/ambit-sec/ambit/internal/observability"
)

const watchDebounce = 500 * time.Millisecond

// ScopeService owns the contract lifecycle around the scope guard: initial
// load, explicit reload, and the staleness watch on the contract file.
// Decisions themselves stay in the guard; this layer adds metrics and
// file plumbing.
type ScopeService struct {
	guard   *scope.Guard
	path    string
	metrics *observability.Metrics
	trail   audit.Trail
	logger  *slog.Logger
	stale   atomic.Bool
}

// ScopeOption configures optional scope service collaborators.
type ScopeOption func(*ScopeService)

// WithAuditTrail records every decision to the given trail.
func WithAuditTrail(trail audit.Trail) ScopeOption {
	return func(s *ScopeService) { s.trail = trail }
}

func NewScopeService(guard *scope.Guard, contractPath string, metrics *observability.Metrics, logger *slog.Logger, opts ...ScopeOption) *ScopeService {
	s := &ScopeService{
		guard:   guard,
		path:    contractPath,
		metrics: metrics,
		logger:  logger.With("component", "scope_service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Guard exposes the underlying guard for components that consume budget
// directly.
func (s *ScopeService) Guard() *scope.Guard { return s.guard }

// Load reads and installs the contract file. A failed load marks the
// guard degraded (deny-by-default) instead of keeping silently stale
// state.
func (s *ScopeService) Load() error {
	c, err := contract.Load(s.path)
	if err != nil {
		s.guard.SetUnavailable(err)
		return fmt.Errorf("load contract: %w", err)
	}
	changed, err := s.guard.Swap(c)
	if err != nil {
		s.guard.SetUnavailable(err)
		return fmt.Errorf("install contract: %w", err)
	}
	s.stale.Store(false)
	s.logger.Info("contract installed",
		"engagement_id", c.Identity.ID,
		"contract_hash", c.ContentHash,
		"changed", changed)
	s.record(audit.Record{
		Kind:         audit.KindContract,
		Decision:     audit.DecisionAllow,
		Reason:       "contract installed",
		ContractHash: c.ContentHash,
	})
	return nil
}

// ReloadResult reports what a reload did.
type ReloadResult struct {
	Changed      bool   `json:"changed"`
	ContractHash string `json:"contract_hash"`
	EngagementID string `json:"engagement_id"`
}

// Reload revalidates the contract file and swaps it in. The budget ledger
// carries over: budget is engagement-wide, not per-file-read.
func (s *ScopeService) Reload() (ReloadResult, error) {
	c, err := contract.Load(s.path)
	if err != nil {
		return ReloadResult{}, fmt.Errorf("reload contract: %w", err)
	}
	changed, err := s.guard.Swap(c)
	if err != nil {
		return ReloadResult{}, fmt.Errorf("install contract: %w", err)
	}
	s.stale.Store(false)
	s.logger.Info("contract reloaded",
		"engagement_id", c.Identity.ID,
		"contract_hash", c.ContentHash,
		"changed", changed)
	s.record(audit.Record{
		Kind:         audit.KindContract,
		Decision:     audit.DecisionAllow,
		Reason:       "contract reloaded",
		ContractHash: c.ContentHash,
	})
	return ReloadResult{
		Changed:      changed,
		ContractHash: c.ContentHash,
		EngagementID: c.Identity.ID,
	}, nil
}

// Validate answers allow/deny for one target.
func (s *ScopeService) Validate(target string) scope.Decision {
	d := s.guard.Validate(target)
	label := "deny"
	if d.Valid {
		label = "allow"
	}
	if s.metrics != nil {
		s.metrics.ScopeDecisions.WithLabelValues(label).Inc()
	}
	s.record(audit.Record{
		Kind:        audit.KindScope,
		Decision:    label,
		Target:      target,
		MatchedRule: d.MatchedRule,
		Reason:      d.Reason,
	})
	return d
}

// Consume validates the target and debits the budget in one step.
func (s *ScopeService) Consume(target string, weight int) (*scope.Target, error) {
	t, err := s.guard.Authorize(target, weight)
	s.observeAuthorize(err)
	s.recordAuthorize(target, weight, err)
	return t, err
}

// Approval consults the approval policy for one action.
func (s *ScopeService) Approval(ctx context.Context, action string, details map[string]any) (scope.ApprovalResult, error) {
	res, err := s.guard.Approval(ctx, action, details)
	if err != nil {
		return res, err
	}
	outcome := strings.ToLower(string(res.Outcome))
	if s.metrics != nil {
		s.metrics.ApprovalRequests.WithLabelValues(outcome).Inc()
	}
	rec := audit.Record{
		Kind:        audit.KindApproval,
		Decision:    outcome,
		Action:      action,
		MatchedRule: res.Rule,
		Reason:      res.Reason,
	}
	if cid, ok := ctx.Value(ctxkey.CorrelationIDKey{}).(string); ok {
		rec.CorrelationID = cid
	}
	s.record(rec)
	return res, nil
}

// RecentDecisions returns the newest trail records for the ops surface.
// Nil without a configured trail.
func (s *ScopeService) RecentDecisions(n int) []audit.Record {
	if s.trail == nil {
		return nil
	}
	return s.trail.Recent(n)
}

// ScopeStatus is guard status plus file-watch staleness.
type ScopeStatus struct {
	scope.Status
	// Stale reports that the contract file changed on disk after the
	// installed snapshot was read. The swap only happens on an explicit
	// reload.
	Stale bool `json:"stale"`
}

func (s *ScopeService) Status() ScopeStatus {
	return ScopeStatus{Status: s.guard.Status(), Stale: s.stale.Load()}
}

// Watch observes the contract file and marks the installed snapshot stale
// when it changes on disk. It blocks until ctx is done. The watch is
// advisory: swaps happen only through Reload, never behind the
// operator's back.
func (s *ScopeService) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create contract watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory: editors replace files by rename, which drops
	// a watch installed on the file itself.
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	s.logger.Debug("contract watch started", "path", s.path)

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return errors.New("contract watcher closed")
			}
			if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, func() {
				s.stale.Store(true)
				s.logger.Warn("contract file changed on disk; reload to apply",
					"path", s.path)
			})
		case werr, ok := <-watcher.Errors:
			if !ok {
				return errors.New("contract watcher closed")
			}
			s.logger.Warn("contract watch error", "error", werr)
		}
	}
}

// record appends to the trail when one is configured. Trail failures are
// logged, never surfaced: a full disk must not start denying targets.
func (s *ScopeService) record(rec audit.Record) {
	if s.trail == nil {
		return
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if err := s.trail.Append(context.Background(), rec); err != nil {
		s.logger.Warn("audit trail append failed", "error", err)
	}
}

func (s *ScopeService) recordAuthorize(target string, weight int, err error) {
	if s.trail == nil {
		return
	}
	rec := audit.Record{
		Kind:     audit.KindScope,
		Decision: audit.DecisionAllow,
		Target:   target,
		Weight:   weight,
	}
	var oos *scope.OutOfScopeError
	var budget *scope.BudgetExceededError
	switch {
	case err == nil:
	case errors.As(err, &oos):
		rec.Decision = audit.DecisionDeny
		rec.Reason = oos.Reason
	case errors.As(err, &budget):
		rec.Kind = audit.KindBudget
		rec.Decision = audit.DecisionDeny
		rec.Reason = budget.Error()
	default:
		rec.Decision = audit.DecisionDeny
		rec.Reason = err.Error()
	}
	s.record(rec)
}

func (s *ScopeService) observeAuthorize(err error) {
	if s.metrics == nil {
		return
	}
	if err == nil {
		s.metrics.ScopeDecisions.WithLabelValues("allow").Inc()
		return
	}
	var oos *scope.OutOfScopeError
	if errors.As(err, &oos) {
		s.metrics.ScopeDecisions.WithLabelValues("deny").Inc()
		return
	}
	var budget *scope.BudgetExceededError
	if errors.As(err, &budget) {
		s.metrics.BudgetRejections.WithLabelValues(string(budget.Kind)).Inc()
	}
}
