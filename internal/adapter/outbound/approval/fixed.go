package approval

import (
	"context"

	"github.com/ambit-sec/ambit/internal/port/outbound"
)

// Fixed answers every request with the same decision. Used when no
// operator is attachable (headless runs wire a fixed DENY) and in tests.
type Fixed struct {
	Decision outbound.ApprovalDecision
}

var _ outbound.ApprovalChannel = Fixed{}

func (f Fixed) Request(ctx context.Context, _ outbound.ApprovalRequest) (outbound.ApprovalDecision, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return f.Decision, nil
}
