// Package wire defines the stable error vocabulary shared between the
// ambit tool surface and its callers. Agents branch on these codes, so
// they form a compatibility contract: codes may be added but never
// renamed or removed.
package wire

// Code identifies a failure class on the tool surface.
type Code string

const (
	// Scope guard codes.
	CodeScopeValidationFailed Code = "SCOPE_VALIDATION_FAILED"
	CodeOutOfScope            Code = "OUT_OF_SCOPE"
	CodeBudgetExceeded        Code = "BUDGET_EXCEEDED"
	CodeApprovalDenied        Code = "APPROVAL_DENIED"

	// Browser session codes.
	CodeSessionNotFound      Code = "SESSION_NOT_FOUND"
	CodeNoActiveSession      Code = "NO_ACTIVE_SESSION"
	CodeSessionLimitExceeded Code = "SESSION_LIMIT_EXCEEDED"
	CodeNavigationFailed     Code = "NAVIGATION_FAILED"
	CodeActionFailed         Code = "ACTION_FAILED"
	CodeExtractionFailed     Code = "EXTRACTION_FAILED"
	CodeXSSTestFailed        Code = "XSS_TEST_FAILED"
	CodeFieldNotFound        Code = "FIELD_NOT_FOUND"

	// Shared infrastructure codes.
	CodeTimeout               Code = "TIMEOUT"
	CodeProxyConnectionFailed Code = "PROXY_CONNECTION_FAILED"
	CodeInternal              Code = "INTERNAL"
)

// ErrorEnvelope is the structured error payload attached to failed tool
// results. Details carries code-specific context (violations, budget
// counters, matched rules) and is omitted when empty.
type ErrorEnvelope struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Envelope builds an ErrorEnvelope. Nil details are normalized away so
// the JSON output stays stable.
func Envelope(code Code, message string, details map[string]any) *ErrorEnvelope {
	if len(details) == 0 {
		details = nil
	}
	return &ErrorEnvelope{Code: code, Message: message, Details: details}
}
