package mcptool

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ambit-sec/ambit/internal/domain/validation"
)

// ReproInput replays one finding.
type ReproInput struct {
	Finding validation.Finding `json:"finding" jsonschema:"recorded finding to reproduce"`
	Count   int                `json:"count,omitempty" jsonschema:"number of reproduction attempts, default 3"`
}

// NegativeControlInput runs one control against a finding. When
// identity_id is set, that identity's auth headers are resolved from the
// credential store and overlaid under modified_headers.
type NegativeControlInput struct {
	Finding    validation.Finding     `json:"finding" jsonschema:"recorded finding under test"`
	Control    validation.ControlSpec `json:"control" jsonschema:"control strategy and request modifications"`
	IdentityID string                 `json:"identity_id,omitempty" jsonschema:"credential store identity whose auth headers back a different_user control"`
}

// CrossIdentityInput probes one finding across an identity matrix.
type CrossIdentityInput struct {
	Finding    validation.Finding         `json:"finding" jsonschema:"recorded finding under test"`
	Identities []validation.IdentityProbe `json:"identities" jsonschema:"identities to replay the request as, with expected access"`
}

// ScoreInput folds previously computed sub-results. All parts are
// optional; absent parts contribute their neutral value.
type ScoreInput struct {
	Repro         *validation.ReproResult         `json:"repro,omitempty" jsonschema:"reproduction result"`
	Control       *validation.ControlResult       `json:"control,omitempty" jsonschema:"negative control result"`
	CrossIdentity *validation.CrossIdentityResult `json:"cross_identity,omitempty" jsonschema:"cross-identity result"`
}

// ValidateInput runs the composite pipeline: repro, optional control,
// optional cross-identity, then scoring and persistence.
type ValidateInput struct {
	Finding           validation.Finding         `json:"finding" jsonschema:"recorded finding to validate"`
	ReproCount        int                        `json:"repro_count,omitempty" jsonschema:"number of reproduction attempts, default 3"`
	Control           *validation.ControlSpec    `json:"control,omitempty" jsonschema:"negative control to run"`
	ControlIdentityID string                     `json:"control_identity_id,omitempty" jsonschema:"credential store identity backing a different_user control"`
	Identities        []validation.IdentityProbe `json:"identities,omitempty" jsonschema:"cross-identity matrix to run"`
}

func (s *Server) registerValidatorTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "validator_repro",
		Description: "Replay a finding's recorded request and report per-attempt match results, success rate, and consistency.",
	}, s.handleRepro)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "validator_negative_control",
		Description: "Replay a finding without (or with altered) credentials to confirm authorization is actually enforced.",
	}, s.handleNegativeControl)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "validator_cross_identity",
		Description: "Replay a finding as multiple identities and report authorization violations against expected access.",
	}, s.handleCrossIdentity)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "validator_score",
		Description: "Fold repro, negative-control, and cross-identity results into a confidence score and recommendation. Pure; no network.",
	}, s.handleScore)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "validator_validate",
		Description: "Run the full validation pipeline for a finding and persist the scored run to the history store.",
	}, s.handleValidate)
}

func (s *Server) handleRepro(ctx context.Context, req *mcpsdk.CallToolRequest, input ReproInput) (*mcpsdk.CallToolResult, validation.ReproResult, error) {
	ctx, span := s.instrument(ctx, "validator_repro")
	defer span.End()

	result, err := s.validator.Repro(ctx, input.Finding, input.Count)
	if err != nil {
		return s.fail(ctx, err), validation.ReproResult{}, nil
	}
	return nil, *result, nil
}

func (s *Server) handleNegativeControl(ctx context.Context, req *mcpsdk.CallToolRequest, input NegativeControlInput) (*mcpsdk.CallToolResult, validation.ControlResult, error) {
	ctx, span := s.instrument(ctx, "validator_negative_control")
	defer span.End()

	spec, err := s.resolveControlIdentity(input.Control, input.IdentityID)
	if err != nil {
		return s.fail(ctx, err), validation.ControlResult{}, nil
	}
	result, err := s.validator.NegativeControl(ctx, input.Finding, spec)
	if err != nil {
		return s.fail(ctx, err), validation.ControlResult{}, nil
	}
	return nil, *result, nil
}

func (s *Server) handleCrossIdentity(ctx context.Context, req *mcpsdk.CallToolRequest, input CrossIdentityInput) (*mcpsdk.CallToolResult, validation.CrossIdentityResult, error) {
	ctx, span := s.instrument(ctx, "validator_cross_identity")
	defer span.End()

	result, err := s.validator.CrossIdentity(ctx, input.Finding, input.Identities)
	if err != nil {
		return s.fail(ctx, err), validation.CrossIdentityResult{}, nil
	}
	return nil, *result, nil
}

func (s *Server) handleScore(ctx context.Context, req *mcpsdk.CallToolRequest, input ScoreInput) (*mcpsdk.CallToolResult, validation.ScoreResult, error) {
	_, span := s.instrument(ctx, "validator_score")
	defer span.End()

	return nil, s.validator.Score(input.Repro, input.Control, input.CrossIdentity), nil
}

func (s *Server) handleValidate(ctx context.Context, req *mcpsdk.CallToolRequest, input ValidateInput) (*mcpsdk.CallToolResult, validation.ValidationReport, error) {
	ctx, span := s.instrument(ctx, "validator_validate")
	defer span.End()

	vreq := validation.ValidateRequest{
		Finding:    input.Finding,
		ReproCount: input.ReproCount,
		Identities: input.Identities,
	}
	if input.Control != nil {
		spec, err := s.resolveControlIdentity(*input.Control, input.ControlIdentityID)
		if err != nil {
			return s.fail(ctx, err), validation.ValidationReport{}, nil
		}
		vreq.Control = &spec
	}
	report, err := s.validator.Validate(ctx, vreq)
	if err != nil {
		return s.fail(ctx, err), validation.ValidationReport{}, nil
	}
	return nil, *report, nil
}

// resolveControlIdentity overlays a stored identity's auth headers under
// the control's explicit modified_headers, which keep precedence.
func (s *Server) resolveControlIdentity(spec validation.ControlSpec, identityID string) (validation.ControlSpec, error) {
	if identityID == "" {
		return spec, nil
	}
	if s.identities == nil {
		return spec, fmt.Errorf("identity %s: no credential store configured", identityID)
	}
	headers, err := s.identities.AuthHeaders(identityID)
	if err != nil {
		return spec, fmt.Errorf("resolve identity %s: %w", identityID, err)
	}
	merged := make(map[string]string, len(headers)+len(spec.ModifiedHeaders))
	for k, v := range headers {
		merged[k] = v
	}
	for k, v := range spec.ModifiedHeaders {
		merged[k] = v
	}
	spec.ModifiedHeaders = merged
	return spec, nil
}
