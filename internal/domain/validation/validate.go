package validation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ambit-sec/ambit/internal/port/outbound"
)

// ValidateRequest is the composite validation input. Control and
// Identities are optional; absent parts score neutrally.
type ValidateRequest struct {
	Finding    Finding         `json:"finding"`
	ReproCount int             `json:"repro_count,omitempty"`
	Control    *ControlSpec    `json:"control,omitempty"`
	Identities []IdentityProbe `json:"identities,omitempty"`
}

// ValidationReport is the full composite output, persisted to the
// history store and attached to the evidence sink as a JSON trace.
type ValidationReport struct {
	RunID       string               `json:"run_id"`
	FindingID   string               `json:"finding_id"`
	Repro       *ReproResult         `json:"repro"`
	Control     *ControlResult       `json:"negative_control,omitempty"`
	CrossID     *CrossIdentityResult `json:"cross_identity,omitempty"`
	Score       ScoreResult          `json:"score"`
	EvidenceURI string               `json:"evidence_uri,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
}

// Validate runs reproduction plus the requested controls, scores the
// finding, and persists the run.
func (e *Engine) Validate(ctx context.Context, req ValidateRequest) (*ValidationReport, error) {
	report := &ValidationReport{
		RunID:     uuid.NewString(),
		FindingID: req.Finding.FindingID,
		CreatedAt: time.Now().UTC(),
	}

	repro, err := e.RunRepro(ctx, req.Finding, req.ReproCount)
	if err != nil {
		return nil, err
	}
	report.Repro = repro

	if req.Control != nil {
		control, err := e.RunControl(ctx, req.Finding, *req.Control)
		if err != nil {
			return nil, err
		}
		report.Control = control
	}
	if len(req.Identities) > 0 {
		xid, err := e.RunCrossIdentity(ctx, req.Finding, req.Identities)
		if err != nil {
			return nil, err
		}
		report.CrossID = xid
	}

	report.Score = Score(report.Repro, report.Control, report.CrossID)

	e.storeTrace(ctx, report)
	e.persist(ctx, report.RunID, "validate", report.FindingID,
		string(report.Score.Recommendation), report.Score.Overall, report)

	e.logger.Info("validation finished",
		"finding_id", report.FindingID, "run_id", report.RunID,
		"overall", report.Score.Overall, "recommendation", report.Score.Recommendation)
	return report, nil
}

func (e *Engine) storeTrace(ctx context.Context, report *ValidationReport) {
	if e.evidence == nil {
		return
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return
	}
	uri, err := e.evidence.Store(ctx, outbound.EvidenceKey{
		EngagementID: e.cfg.EngagementID,
		SessionID:    "validator",
		Seq:          int(e.seq.Add(1)),
		Kind:         outbound.EvidenceValidationTrace,
		Ext:          "json",
	}, data, outbound.EvidenceMeta{
		"finding_id":     report.FindingID,
		"recommendation": string(report.Score.Recommendation),
	})
	if err != nil {
		e.logger.Warn("store validation trace", "finding_id", report.FindingID, "error", err)
		return
	}
	report.EvidenceURI = uri
}
