// Package audit defines the decision trail: one record per scope,
// budget, approval, or contract decision the guard hands out. The trail
// is the flight recorder for an engagement; matched rules are stored
// verbatim so a record alone answers "why was this allowed".
package audit

import (
	"context"
	"time"
)

// Record kinds.
const (
	KindScope    = "scope"
	KindBudget   = "budget"
	KindApproval = "approval"
	KindContract = "contract"
)

// Decision values. Approval records may also carry "timeout".
const (
	DecisionAllow   = "allow"
	DecisionDeny    = "deny"
	DecisionTimeout = "timeout"
)

// Record is a single trail entry. Target is set for scope and budget
// records, Action for approval records, ContractHash for contract
// installs and reloads.
type Record struct {
	Timestamp     time.Time `json:"timestamp"`
	Kind          string    `json:"kind"`
	Decision      string    `json:"decision"`
	Target        string    `json:"target,omitempty"`
	Action        string    `json:"action,omitempty"`
	MatchedRule   string    `json:"matched_rule,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	Weight        int       `json:"weight,omitempty"`
	ContractHash  string    `json:"contract_hash,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// Trail persists decision records. Interface owned by the domain;
// the file implementation lives in adapter/outbound/audit.
type Trail interface {
	// Append stores records in order.
	Append(ctx context.Context, records ...Record) error

	// Recent returns the last n records, newest first.
	Recent(n int) []Record

	// Flush forces pending records to storage.
	Flush(ctx context.Context) error

	// Close releases resources.
	Close() error
}
