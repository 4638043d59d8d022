package mcptool

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ambit-sec/ambit/internal/domain/scope"
	"github.com/ambit-sec/ambit/internal/service"
)

// ScopeValidateInput names one candidate target.
type ScopeValidateInput struct {
	Target string `json:"target" jsonschema:"candidate URL, hostname, or IP to test against the engagement contract"`
}

// ScopeConsumeInput debits the budget for one target.
type ScopeConsumeInput struct {
	Target string `json:"target" jsonschema:"target URL, hostname, or IP whose host budget is debited"`
	Weight int    `json:"weight,omitempty" jsonschema:"debit weight, default 1"`
}

// ScopeConsumeOutput confirms a granted debit.
type ScopeConsumeOutput struct {
	Ok   bool   `json:"ok"`
	Host string `json:"host"`
}

// ScopeApprovalInput asks the approval policy about one gated action.
type ScopeApprovalInput struct {
	Action  string         `json:"action" jsonschema:"action name to check against the approval policy"`
	Details map[string]any `json:"details,omitempty" jsonschema:"action context forwarded to the approval channel and policy rules"`
}

// ScopeApprovalOutput is the policy verdict.
type ScopeApprovalOutput struct {
	Outcome   string `json:"outcome"`
	Reason    string `json:"reason,omitempty"`
	Rule      string `json:"rule,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// ScopeStatusInput has no parameters.
type ScopeStatusInput struct{}

// ScopeReloadInput has no parameters.
type ScopeReloadInput struct{}

func (s *Server) registerScopeTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "scope_validate",
		Description: "Check whether a target is inside the engagement scope. Read-only; consumes no budget.",
	}, s.handleScopeValidate)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "scope_consume",
		Description: "Validate a target and atomically debit the engagement budget for it. Required before any target I/O.",
	}, s.handleScopeConsume)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "scope_approval",
		Description: "Consult the approval policy for a gated action. INTERACTIVE mode waits for an operator answer.",
	}, s.handleScopeApproval)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "scope_status",
		Description: "Report the contract identity and current budget ledger counters.",
	}, s.handleScopeStatus)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "scope_reload",
		Description: "Revalidate the contract file and swap it in. The budget ledger carries over.",
	}, s.handleScopeReload)
}

func (s *Server) handleScopeValidate(ctx context.Context, req *mcpsdk.CallToolRequest, input ScopeValidateInput) (*mcpsdk.CallToolResult, scope.Decision, error) {
	ctx, span := s.instrument(ctx, "scope_validate")
	defer span.End()

	decision := s.scope.Validate(input.Target)
	s.loggerFrom(ctx).Debug("scope validated", "target", input.Target, "valid", decision.Valid)
	return nil, decision, nil
}

func (s *Server) handleScopeConsume(ctx context.Context, req *mcpsdk.CallToolRequest, input ScopeConsumeInput) (*mcpsdk.CallToolResult, ScopeConsumeOutput, error) {
	ctx, span := s.instrument(ctx, "scope_consume")
	defer span.End()

	weight := input.Weight
	if weight <= 0 {
		weight = 1
	}
	target, err := s.scope.Consume(input.Target, weight)
	if err != nil {
		return s.fail(ctx, err), ScopeConsumeOutput{}, nil
	}
	return nil, ScopeConsumeOutput{Ok: true, Host: target.Host}, nil
}

func (s *Server) handleScopeApproval(ctx context.Context, req *mcpsdk.CallToolRequest, input ScopeApprovalInput) (*mcpsdk.CallToolResult, ScopeApprovalOutput, error) {
	ctx, span := s.instrument(ctx, "scope_approval")
	defer span.End()

	result, err := s.scope.Approval(ctx, input.Action, input.Details)
	if err != nil {
		return s.fail(ctx, err), ScopeApprovalOutput{}, nil
	}
	return nil, ScopeApprovalOutput{
		Outcome:   string(result.Outcome),
		Reason:    result.Reason,
		Rule:      result.Rule,
		RequestID: result.RequestID,
	}, nil
}

func (s *Server) handleScopeStatus(ctx context.Context, req *mcpsdk.CallToolRequest, input ScopeStatusInput) (*mcpsdk.CallToolResult, service.ScopeStatus, error) {
	_, span := s.instrument(ctx, "scope_status")
	defer span.End()

	return nil, s.scope.Status(), nil
}

func (s *Server) handleScopeReload(ctx context.Context, req *mcpsdk.CallToolRequest, input ScopeReloadInput) (*mcpsdk.CallToolResult, service.ReloadResult, error) {
	ctx, span := s.instrument(ctx, "scope_reload")
	defer span.End()

	result, err := s.scope.Reload()
	if err != nil {
		return s.fail(ctx, err), service.ReloadResult{}, nil
	}
	return nil, result, nil
}
