package validation

import (
	"fmt"
	"math"
)

// Recommendation is the validator verdict for one finding.
type Recommendation string

const (
	RecommendPromote     Recommendation = "promote"
	RecommendInvestigate Recommendation = "investigate"
	RecommendDismiss     Recommendation = "dismiss"
)

// ScoreResult folds the sub-results into one confidence verdict.
// A high cross-identity score means the finding is corroborated:
// authorization violations across identities strengthen it.
type ScoreResult struct {
	ReproScore     float64        `json:"repro_score"`
	NegScore       float64        `json:"negative_control_score"`
	XidScore       float64        `json:"cross_identity_score"`
	Overall        float64        `json:"overall"`
	Recommendation Recommendation `json:"recommendation"`
	Factors        []string       `json:"factors"`
}

// Score weighs reproduction 0.5, negative control 0.2, cross-identity
// 0.3. Absent sub-results contribute their neutral value (repro 0,
// others 0.5).
func Score(repro *ReproResult, control *ControlResult, xid *CrossIdentityResult) ScoreResult {
	var s ScoreResult

	if repro != nil {
		s.ReproScore = repro.SuccessRate
		if !repro.Consistent {
			s.ReproScore *= 0.6
		}
		matched := 0
		for _, a := range repro.Attempts {
			if a.Matched {
				matched++
			}
		}
		s.Factors = append(s.Factors,
			fmt.Sprintf("reproduction: %d/%d attempts matched, consistent=%v", matched, repro.Count, repro.Consistent))
	} else {
		s.Factors = append(s.Factors, "reproduction: not run")
	}

	s.NegScore = 0.5
	if control != nil {
		if control.Passed {
			s.NegScore = 1.0
			s.Factors = append(s.Factors,
				fmt.Sprintf("negative control (%s): authorization enforced without credentials", control.Type))
		} else {
			s.NegScore = 0.0
			s.Factors = append(s.Factors,
				fmt.Sprintf("negative control (%s): failed, %s", control.Type, control.Detail))
		}
	} else {
		s.Factors = append(s.Factors, "negative control: not run")
	}

	s.XidScore = 0.5
	if xid != nil {
		if xid.AuthorizationEnforced {
			s.XidScore = 0.0
			s.Factors = append(s.Factors, "cross-identity: authorization enforced, finding not corroborated")
		} else {
			s.XidScore = math.Min(1.0, float64(len(xid.Violations))/float64(len(xid.Results))+0.5)
			s.Factors = append(s.Factors,
				fmt.Sprintf("cross-identity: %d/%d identities violated authorization", len(xid.Violations), len(xid.Results)))
		}
	} else {
		s.Factors = append(s.Factors, "cross-identity: not run")
	}

	s.Overall = 0.5*s.ReproScore + 0.2*s.NegScore + 0.3*s.XidScore
	switch {
	case s.Overall >= 0.75:
		s.Recommendation = RecommendPromote
	case s.Overall >= 0.4:
		s.Recommendation = RecommendInvestigate
	default:
		s.Recommendation = RecommendDismiss
	}
	return s
}
