package session

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Oracle context limits: action requests carry at most 2000 chars of page
// text, extraction requests at most 8000.
const (
	actionTextLimit  = 2000
	extractTextLimit = 8000
)

// Answer envelopes sent with every oracle request, so the model sees the
// exact shape the parsers below enforce.
const (
	actionAnswerFormat     = `{"selector": "<CSS selector of the target element>", "actionType": "click" | "fill" | "select", "value": "<text to fill or option to select; omit for click>"}`
	extractionAnswerFormat = `a single JSON value answering the task, e.g. {"items": [...]} or {"found": false}`
)

// ActionType enumerates the DOM operations the oracle may request.
type ActionType string

const (
	ActionClick  ActionType = "click"
	ActionFill   ActionType = "fill"
	ActionSelect ActionType = "select"
)

// ActionPlan is the schema-checked oracle answer for an action request.
// Unknown fields are ignored; selector and actionType are required.
type ActionPlan struct {
	Selector   string     `json:"selector"`
	ActionType ActionType `json:"actionType"`
	Value      string     `json:"value,omitempty"`
}

// UnmarshalJSON accepts both key spellings for the action type. The
// prompt asks for actionType, but models sometimes snake_case it.
func (p *ActionPlan) UnmarshalJSON(data []byte) error {
	var env struct {
		Selector   string     `json:"selector"`
		ActionType ActionType `json:"actionType"`
		SnakeType  ActionType `json:"action_type"`
		Value      string     `json:"value"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	p.Selector = env.Selector
	p.ActionType = env.ActionType
	if p.ActionType == "" {
		p.ActionType = env.SnakeType
	}
	p.Value = env.Value
	return nil
}

// ParseActionPlan validates a raw oracle answer against the action
// envelope. Markdown code fences are tolerated; shape violations surface
// with the offending payload attached and are never retried.
func ParseActionPlan(raw []byte) (ActionPlan, error) {
	cleaned := stripFences(string(raw))

	var plan ActionPlan
	if err := json.Unmarshal([]byte(cleaned), &plan); err != nil {
		return ActionPlan{}, &ActionError{
			Reason:  "oracle answer is not valid JSON",
			Payload: truncate(cleaned, 500),
			Err:     err,
		}
	}
	if plan.Selector == "" {
		return ActionPlan{}, &ActionError{
			Reason:  "oracle answer missing selector",
			Payload: truncate(cleaned, 500),
		}
	}
	switch plan.ActionType {
	case ActionClick, ActionFill, ActionSelect:
	default:
		return ActionPlan{}, &ActionError{
			Reason:  fmt.Sprintf("oracle answer has unknown actionType %q", plan.ActionType),
			Payload: truncate(cleaned, 500),
		}
	}
	return plan, nil
}

// ParseExtraction normalizes a raw oracle answer to JSON: fenced or bare
// JSON passes through, anything else is wrapped as {"text": raw}.
func ParseExtraction(raw []byte) json.RawMessage {
	cleaned := stripFences(string(raw))
	if json.Valid([]byte(cleaned)) {
		return json.RawMessage(cleaned)
	}
	wrapped, _ := json.Marshal(map[string]string{"text": cleaned})
	return wrapped
}

// stripFences removes a markdown code fence wrapper, if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// truncate caps s at n characters on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
