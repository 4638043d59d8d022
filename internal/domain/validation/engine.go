// Package validation implements the validator core: reproduction runs,
// negative controls, cross-identity matrices, and the confidence scorer
// that folds them into one verdict. Every replayed request is gated by
// the scope guard and routed through the interception proxy client.
package validation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ambit-sec/ambit/internal/domain/scope"
	"github.com/ambit-sec/ambit/internal/port/outbound"
)

// DefaultOpTimeout bounds one replayed request when the contract carries
// no total timeout.
const DefaultOpTimeout = 30 * time.Second

// maxBodyBytes caps how much of a response body is read for hashing and
// expectation checks.
const maxBodyBytes = 10 << 20

// EngineConfig carries process-level validator settings.
type EngineConfig struct {
	EngagementID string
	// DefaultTimeout is the per-request deadline fallback.
	DefaultTimeout time.Duration
}

// Engine replays finding requests under scope guard control. The injected
// client is expected to be pinned to the interception proxy.
type Engine struct {
	client   *http.Client
	guard    *scope.Guard
	history  outbound.HistoryStore
	evidence outbound.EvidenceSink
	cfg      EngineConfig
	logger   *slog.Logger
	seq      atomic.Int64
}

// NewEngine wires the validator core. history and evidence may be nil;
// results are then returned without being persisted.
func NewEngine(client *http.Client, guard *scope.Guard, history outbound.HistoryStore, evidence outbound.EvidenceSink, cfg EngineConfig, logger *slog.Logger) *Engine {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultOpTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		client:   client,
		guard:    guard,
		history:  history,
		evidence: evidence,
		cfg:      cfg,
		logger:   logger.With("component", "validator"),
	}
}

// probeResult is one wire exchange. Err carries transport failures, which
// are attempt data rather than run errors.
type probeResult struct {
	Status     int
	Body       []byte
	BodySHA256 string
	DurationMs int64
	Err        error
}

// issue performs one guarded request. Policy failures (scope, budget,
// concurrency) return as errors and abort the caller's run; transport
// failures come back inside the probe.
func (e *Engine) issue(ctx context.Context, method, rawURL string, headers map[string]string, body string) (probeResult, error) {
	target, err := e.guard.Authorize(rawURL, 1)
	if err != nil {
		return probeResult{}, err
	}
	release, err := e.guard.EnterInFlight()
	if err != nil {
		e.guard.Refund(target.Host, 1)
		return probeResult{}, err
	}
	defer release()

	reqCtx, cancel := context.WithTimeout(ctx, e.opTimeout())
	defer cancel()

	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, rd)
	if err != nil {
		e.guard.Refund(target.Host, 1)
		return probeResult{}, fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			// Caller cancelled; the debit rolls back with the abort.
			e.guard.Refund(target.Host, 1)
			return probeResult{}, ctx.Err()
		}
		return probeResult{DurationMs: time.Since(start).Milliseconds(), Err: err}, nil
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return probeResult{Status: resp.StatusCode, DurationMs: elapsed, Err: fmt.Errorf("read body: %w", err)}, nil
	}
	sum := sha256.Sum256(data)
	return probeResult{
		Status:     resp.StatusCode,
		Body:       data,
		BodySHA256: hex.EncodeToString(sum[:]),
		DurationMs: elapsed,
	}, nil
}

// opTimeout derives the per-request deadline from the contract's
// timeouts.total_ms, falling back to the configured default.
func (e *Engine) opTimeout() time.Duration {
	if c := e.guard.Contract(); c != nil && c.Constraints.Timeouts.TotalMs > 0 {
		return time.Duration(c.Constraints.Timeouts.TotalMs) * time.Millisecond
	}
	return e.cfg.DefaultTimeout
}

// concurrency is the cross-identity fan-out bound from the contract.
func (e *Engine) concurrency() int {
	if c := e.guard.Contract(); c != nil && c.Constraints.Rate.MaxConcurrent > 0 {
		return c.Constraints.Rate.MaxConcurrent
	}
	return 4
}

// persist appends one run row to the history store. History failures are
// logged, never fatal: the computed result is the deliverable.
func (e *Engine) persist(ctx context.Context, runID, kind, findingID, recommendation string, overall float64, result any) {
	if e.history == nil {
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return
	}
	if runID == "" {
		runID = uuid.NewString()
	}
	run := outbound.ValidationRun{
		RunID:          runID,
		FindingID:      findingID,
		Kind:           kind,
		Recommendation: recommendation,
		Overall:        overall,
		Payload:        payload,
		CreatedAt:      time.Now().UTC(),
	}
	if err := e.history.Append(ctx, run); err != nil {
		e.logger.Warn("append validation history", "kind", kind, "finding_id", findingID, "error", err)
	}
}

// requestBody returns the body to replay: only POST, PUT, and PATCH carry
// the recorded body.
func requestBody(method, body string) string {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return body
	default:
		return ""
	}
}
