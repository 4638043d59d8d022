package scope

import (
	"context"
	"maps"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ambit-sec/ambit/internal/domain/contract"
)

// Ledger is the process-wide consumable budget: a token bucket for pacing
// plus hard caps on total, per-target, concurrent, and elapsed usage. It is
// engagement-scoped and deliberately survives contract reloads.
type Ledger struct {
	mu        sync.Mutex
	limiter   *rate.Limiter
	total     int
	perTarget map[string]int
	inFlight  int

	windowStart time.Time

	maxTotal      int
	maxPerTarget  int
	maxConcurrent int
	burst         int
	maxDuration   time.Duration
}

// BudgetSnapshot is a read-only copy of the ledger state.
type BudgetSnapshot struct {
	TotalRequests    int            `json:"total_requests"`
	MaxTotalRequests int            `json:"max_total_requests"`
	PerTarget        map[string]int `json:"per_target"`
	MaxPerTarget     int            `json:"max_per_target"`
	InFlight         int            `json:"in_flight"`
	MaxConcurrent    int            `json:"max_concurrent"`
	TokensAvailable  float64        `json:"tokens_available"`
	WindowStart      time.Time      `json:"window_start"`
	WindowRemaining  time.Duration  `json:"window_remaining"`
}

// NewLedger builds a ledger from contract constraints. The budget window
// starts now.
func NewLedger(c contract.Constraints) *Ledger {
	l := &Ledger{
		perTarget:   make(map[string]int),
		windowStart: time.Now(),
	}
	l.applyConstraints(c)
	l.limiter = rate.NewLimiter(rate.Limit(c.Rate.RPS), c.Rate.Burst)
	return l
}

// Reconfigure applies new constraints while keeping counters and the budget
// window: the budget belongs to the engagement, not to one contract read.
func (l *Ledger) Reconfigure(c contract.Constraints) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.applyConstraints(c)
	l.limiter.SetLimit(rate.Limit(c.Rate.RPS))
	l.limiter.SetBurst(c.Rate.Burst)
}

func (l *Ledger) applyConstraints(c contract.Constraints) {
	l.maxTotal = c.Budget.MaxTotalRequests
	l.maxPerTarget = c.Budget.MaxPerTarget
	l.maxConcurrent = c.Rate.MaxConcurrent
	l.burst = c.Rate.Burst
	l.maxDuration = time.Duration(c.Budget.MaxDurationHours) * time.Hour
}

// Consume atomically debits weight requests against host: take tokens, then
// verify every cap. Any breach cancels the token reservation and leaves the
// counters untouched. Fail-fast: rate exhaustion returns immediately.
func (l *Ledger) Consume(host string, weight int) error {
	if weight <= 0 {
		weight = 1
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if err := l.checkWindow(now); err != nil {
		return err
	}

	res := l.limiter.ReserveN(now, weight)
	if !res.OK() || res.DelayFrom(now) > 0 {
		if res.OK() {
			res.CancelAt(now)
		}
		return &BudgetExceededError{
			Kind:    BudgetRate,
			Host:    host,
			Current: int(l.limiter.TokensAt(now)),
			Limit:   l.burst,
		}
	}

	if err := l.checkCaps(host, weight); err != nil {
		res.CancelAt(now)
		return err
	}

	l.total += weight
	l.perTarget[host] += weight
	return nil
}

// ConsumeWait is the blocking variant: caps still fail fast, only rate
// exhaustion waits for refill. Cancelling ctx returns the reserved tokens.
func (l *Ledger) ConsumeWait(ctx context.Context, host string, weight int) error {
	if weight <= 0 {
		weight = 1
	}

	l.mu.Lock()
	now := time.Now()
	if err := l.checkWindow(now); err != nil {
		l.mu.Unlock()
		return err
	}
	if err := l.checkCaps(host, weight); err != nil {
		l.mu.Unlock()
		return err
	}
	res := l.limiter.ReserveN(now, weight)
	if !res.OK() {
		l.mu.Unlock()
		return &BudgetExceededError{Kind: BudgetRate, Host: host, Current: 0, Limit: l.burst}
	}
	delay := res.DelayFrom(now)
	l.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			res.Cancel()
			return ctx.Err()
		case <-timer.C:
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// Caps may have moved while waiting; the reservation is already spent,
	// which only makes pacing more conservative.
	if err := l.checkCaps(host, weight); err != nil {
		return err
	}
	l.total += weight
	l.perTarget[host] += weight
	return nil
}

func (l *Ledger) checkWindow(now time.Time) error {
	if l.maxDuration > 0 && now.Sub(l.windowStart) > l.maxDuration {
		return &BudgetExceededError{
			Kind:    BudgetDuration,
			Current: int(now.Sub(l.windowStart).Hours()),
			Limit:   int(l.maxDuration.Hours()),
		}
	}
	return nil
}

func (l *Ledger) checkCaps(host string, weight int) error {
	if l.total+weight > l.maxTotal {
		return &BudgetExceededError{Kind: BudgetTotal, Current: l.total, Limit: l.maxTotal}
	}
	if l.perTarget[host]+weight > l.maxPerTarget {
		return &BudgetExceededError{
			Kind:    BudgetPerTarget,
			Host:    host,
			Current: l.perTarget[host],
			Limit:   l.maxPerTarget,
		}
	}
	return nil
}

// Refund rolls back a prior successful Consume after the operation it paid
// for was cancelled before any I/O happened. Tokens are not returned: rate
// pacing follows wall time.
func (l *Ledger) Refund(host string, weight int) {
	if weight <= 0 {
		weight = 1
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.total = max(0, l.total-weight)
	if remaining := l.perTarget[host] - weight; remaining > 0 {
		l.perTarget[host] = remaining
	} else {
		delete(l.perTarget, host)
	}
}

// EnterInFlight claims a concurrency slot. The returned release is
// idempotent and must be called when the operation finishes.
func (l *Ledger) EnterInFlight() (release func(), err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.inFlight+1 > l.maxConcurrent {
		return nil, &BudgetExceededError{
			Kind:    BudgetConcurrency,
			Current: l.inFlight,
			Limit:   l.maxConcurrent,
		}
	}
	l.inFlight++

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.inFlight--
		})
	}, nil
}

// Snapshot copies the current ledger state.
func (l *Ledger) Snapshot() BudgetSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	remaining := l.maxDuration - now.Sub(l.windowStart)
	if remaining < 0 {
		remaining = 0
	}
	return BudgetSnapshot{
		TotalRequests:    l.total,
		MaxTotalRequests: l.maxTotal,
		PerTarget:        maps.Clone(l.perTarget),
		MaxPerTarget:     l.maxPerTarget,
		InFlight:         l.inFlight,
		MaxConcurrent:    l.maxConcurrent,
		TokensAvailable:  l.limiter.TokensAt(now),
		WindowStart:      l.windowStart,
		WindowRemaining:  remaining,
	}
}
