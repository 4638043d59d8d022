package outbound

import (
	"context"
	"time"
)

// ApprovalDecision is an operator's answer to a gated action.
type ApprovalDecision string

const (
	ApprovalAllow   ApprovalDecision = "ALLOW"
	ApprovalDeny    ApprovalDecision = "DENY"
	ApprovalTimeout ApprovalDecision = "TIMEOUT"
)

// ApprovalRequest describes one gated action awaiting an operator answer.
type ApprovalRequest struct {
	ID          string         `json:"id"`
	Action      string         `json:"action"`
	Details     map[string]any `json:"details,omitempty"`
	RequestedAt time.Time      `json:"requested_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
}

// ApprovalChannel delivers gated actions to an operator and blocks for the
// answer. Implementations return ApprovalTimeout when ctx's deadline
// expires without an answer, and ctx.Err() when ctx is cancelled outright.
type ApprovalChannel interface {
	Request(ctx context.Context, req ApprovalRequest) (ApprovalDecision, error)
}
