package mcptool

import (
	"context"
	"encoding/json"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ambit-sec/ambit/internal/domain/session"
)

// CreateSessionInput has no parameters; sessions pin the configured proxy.
type CreateSessionInput struct{}

// NavigateInput drives one session to a URL.
type NavigateInput struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"session to use; omit for the most recently used live session"`
	URL       string `json:"url" jsonschema:"destination URL; must be inside the engagement scope"`
}

// ActInput is a natural-language page action.
type ActInput struct {
	SessionID   string `json:"session_id,omitempty" jsonschema:"session to use; omit for the most recently used live session"`
	Instruction string `json:"instruction" jsonschema:"natural-language action, e.g. 'click the login button'"`
}

// ExtractInput is a natural-language extraction request.
type ExtractInput struct {
	SessionID   string `json:"session_id,omitempty" jsonschema:"session to use; omit for the most recently used live session"`
	Instruction string `json:"instruction" jsonschema:"natural-language description of the data to extract"`
}

// ExtractOutput carries the extracted JSON. Non-JSON oracle answers arrive
// wrapped as {"text": raw}.
type ExtractOutput struct {
	Data any `json:"data"`
}

// XSSProbeInput targets one form field with the payload set.
type XSSProbeInput struct {
	SessionID    string   `json:"session_id,omitempty" jsonschema:"session to use; omit for the most recently used live session"`
	FormSelector string   `json:"form_selector" jsonschema:"CSS selector of the form under test"`
	FieldName    string   `json:"field_name" jsonschema:"name attribute of the input field to inject"`
	Payloads     []string `json:"payloads,omitempty" jsonschema:"custom payload bodies; omit for the seed set"`
	FirstHit     bool     `json:"first_hit,omitempty" jsonschema:"stop after the first payload that executes"`
}

// ScreenshotInput captures one session's page.
type ScreenshotInput struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"session to use; omit for the most recently used live session"`
}

// CloseInput tears one session down.
type CloseInput struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"session to close; omit for the most recently used live session"`
}

// CloseOutput confirms the teardown. Closing an unknown session is a
// no-op, not an error.
type CloseOutput struct {
	Closed bool `json:"closed"`
}

// ListSessionsInput has no parameters.
type ListSessionsInput struct{}

// ListSessionsOutput snapshots the live pool, oldest first.
type ListSessionsOutput struct {
	Sessions []session.Snapshot `json:"sessions"`
}

func (s *Server) registerBrowserTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "browser_create_session",
		Description: "Open a browser session routed through the interception proxy. Fails when the proxy is unreachable.",
	}, s.handleCreateSession)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "browser_navigate",
		Description: "Navigate a session to a URL. The target and every redirect hop are validated against the engagement scope.",
	}, s.handleNavigate)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "browser_act",
		Description: "Perform a natural-language action on the current page, resolved to a DOM operation by the page oracle.",
	}, s.handleAct)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "browser_extract",
		Description: "Extract structured data from the current page as JSON, guided by a natural-language instruction.",
	}, s.handleExtract)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "browser_xss_probe",
		Description: "Inject XSS payloads into one form field and classify reflections as executed, reflected, or attribute injection.",
	}, s.handleXSSProbe)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "browser_screenshot",
		Description: "Capture the current page and store it in the evidence sink. Returns the evidence URI.",
	}, s.handleScreenshot)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "browser_close",
		Description: "Close a browser session and release its pool slot. Idempotent.",
	}, s.handleClose)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "browser_list_sessions",
		Description: "List live browser sessions with their state and current URL.",
	}, s.handleListSessions)
}

func (s *Server) handleCreateSession(ctx context.Context, req *mcpsdk.CallToolRequest, input CreateSessionInput) (*mcpsdk.CallToolResult, session.Snapshot, error) {
	ctx, span := s.instrument(ctx, "browser_create_session")
	defer span.End()

	snap, err := s.sessions.Create(ctx)
	if err != nil {
		return s.fail(ctx, err), session.Snapshot{}, nil
	}
	return nil, snap, nil
}

func (s *Server) handleNavigate(ctx context.Context, req *mcpsdk.CallToolRequest, input NavigateInput) (*mcpsdk.CallToolResult, session.NavigateResult, error) {
	ctx, span := s.instrument(ctx, "browser_navigate")
	defer span.End()

	result, err := s.sessions.Navigate(ctx, input.SessionID, input.URL)
	if err != nil {
		return s.fail(ctx, err), session.NavigateResult{}, nil
	}
	return nil, result, nil
}

func (s *Server) handleAct(ctx context.Context, req *mcpsdk.CallToolRequest, input ActInput) (*mcpsdk.CallToolResult, session.ActionOutcome, error) {
	ctx, span := s.instrument(ctx, "browser_act")
	defer span.End()

	outcome, err := s.sessions.Act(ctx, input.SessionID, input.Instruction)
	if err != nil {
		return s.fail(ctx, err), session.ActionOutcome{}, nil
	}
	return nil, outcome, nil
}

func (s *Server) handleExtract(ctx context.Context, req *mcpsdk.CallToolRequest, input ExtractInput) (*mcpsdk.CallToolResult, ExtractOutput, error) {
	ctx, span := s.instrument(ctx, "browser_extract")
	defer span.End()

	raw, err := s.sessions.Extract(ctx, input.SessionID, input.Instruction)
	if err != nil {
		return s.fail(ctx, err), ExtractOutput{}, nil
	}
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return s.fail(ctx, fmt.Errorf("decode extraction payload: %w", err)), ExtractOutput{}, nil
	}
	return nil, ExtractOutput{Data: data}, nil
}

func (s *Server) handleXSSProbe(ctx context.Context, req *mcpsdk.CallToolRequest, input XSSProbeInput) (*mcpsdk.CallToolResult, session.XSSReport, error) {
	ctx, span := s.instrument(ctx, "browser_xss_probe")
	defer span.End()

	report, err := s.sessions.XSSProbe(ctx, input.SessionID, session.XSSProbeRequest{
		FormSelector: input.FormSelector,
		FieldName:    input.FieldName,
		Payloads:     input.Payloads,
		FirstHit:     input.FirstHit,
	})
	if err != nil {
		return s.fail(ctx, err), session.XSSReport{}, nil
	}
	return nil, *report, nil
}

func (s *Server) handleScreenshot(ctx context.Context, req *mcpsdk.CallToolRequest, input ScreenshotInput) (*mcpsdk.CallToolResult, session.ScreenshotResult, error) {
	ctx, span := s.instrument(ctx, "browser_screenshot")
	defer span.End()

	result, err := s.sessions.Screenshot(ctx, input.SessionID)
	if err != nil {
		return s.fail(ctx, err), session.ScreenshotResult{}, nil
	}
	return nil, result, nil
}

func (s *Server) handleClose(ctx context.Context, req *mcpsdk.CallToolRequest, input CloseInput) (*mcpsdk.CallToolResult, CloseOutput, error) {
	ctx, span := s.instrument(ctx, "browser_close")
	defer span.End()

	if err := s.sessions.Close(ctx, input.SessionID); err != nil {
		return s.fail(ctx, err), CloseOutput{}, nil
	}
	return nil, CloseOutput{Closed: true}, nil
}

func (s *Server) handleListSessions(ctx context.Context, req *mcpsdk.CallToolRequest, input ListSessionsInput) (*mcpsdk.CallToolResult, ListSessionsOutput, error) {
	_, span := s.instrument(ctx, "browser_list_sessions")
	defer span.End()

	snaps := s.sessions.List()
	if snaps == nil {
		snaps = []session.Snapshot{}
	}
	return nil, ListSessionsOutput{Sessions: snaps}, nil
}
