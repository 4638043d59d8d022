package outbound

import (
	"context"
	"time"
)

// ValidationRun is one append-only validation history row. Payload holds
// the full JSON result for operator correlation.
type ValidationRun struct {
	RunID          string
	FindingID      string
	Kind           string
	Recommendation string
	Overall        float64
	Payload        []byte
	CreatedAt      time.Time
}

// HistoryStore persists validation runs. Rows are never updated or deleted.
type HistoryStore interface {
	Append(ctx context.Context, run ValidationRun) error
	ByFinding(ctx context.Context, findingID string) ([]ValidationRun, error)
	Close() error
}
