package validation

import (
	"net/http"
	"strings"
)

// RequestSpec is the recorded request of a finding.
type RequestSpec struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// Expectation describes what a matching response looks like. Absent
// expectation means any 2xx matches.
type Expectation struct {
	StatusCode      int      `json:"status_code,omitempty"`
	BodyContains    []string `json:"body_contains,omitempty"`
	BodyNotContains []string `json:"body_not_contains,omitempty"`
	BodyRegex       string   `json:"body_regex,omitempty"`
}

// Finding is the immutable validator input: one recorded request with
// optional response expectations and the identity it was captured under.
type Finding struct {
	FindingID  string       `json:"finding_id"`
	Title      string       `json:"title,omitempty"`
	Request    RequestSpec  `json:"request"`
	Expected   *Expectation `json:"expected,omitempty"`
	IdentityID string       `json:"identity_id,omitempty"`
}

func (f *Finding) normalize() {
	f.Request.Method = strings.ToUpper(strings.TrimSpace(f.Request.Method))
	if f.Request.Method == "" {
		f.Request.Method = http.MethodGet
	}
}

// Attempt is one reproduction exchange.
type Attempt struct {
	Status     int    `json:"status,omitempty"`
	BodyLen    int    `json:"body_len"`
	BodySHA256 string `json:"body_sha256,omitempty"`
	Matched    bool   `json:"matched"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// ReproResult aggregates a reproduction run. Consistent means every
// matched attempt produced the same body hash.
type ReproResult struct {
	FindingID   string    `json:"finding_id"`
	Count       int       `json:"count"`
	Attempts    []Attempt `json:"attempts"`
	SuccessRate float64   `json:"success_rate"`
	Consistent  bool      `json:"consistent"`
}

// ControlType names a negative-control strategy.
type ControlType string

const (
	ControlUnauthenticated ControlType = "unauthenticated"
	ControlInvalidToken    ControlType = "invalid_token"
	ControlDifferentUser   ControlType = "different_user"
	ControlModifiedRequest ControlType = "modified_request"
)

// ControlSpec shapes one negative control. RemoveAuth strips
// Authorization, X-API-Key, and Cookie before the ModifiedHeaders
// overlay is applied.
type ControlSpec struct {
	Type            ControlType       `json:"control_type"`
	ModifiedHeaders map[string]string `json:"modified_headers,omitempty"`
	ModifiedBody    *string           `json:"modified_body,omitempty"`
	RemoveAuth      bool              `json:"remove_auth,omitempty"`
	ExpectedStatus  int               `json:"expected_status,omitempty"`
}

// ControlResult reports one negative control. Passed means authorization
// held: the finding does not occur without proper credentials.
type ControlResult struct {
	FindingID  string      `json:"finding_id"`
	Type       ControlType `json:"control_type"`
	Status     int         `json:"status,omitempty"`
	BodySHA256 string      `json:"body_sha256,omitempty"`
	DurationMs int64       `json:"duration_ms"`
	Passed     bool        `json:"passed"`
	Detail     string      `json:"detail"`
	Error      string      `json:"error,omitempty"`
}

// AuthType names how an identity authenticates.
type AuthType string

const (
	AuthBearer AuthType = "bearer"
	AuthBasic  AuthType = "basic"
	AuthAPIKey AuthType = "api_key"
	AuthCookie AuthType = "cookie"
)

// IdentityProbe is one identity in a cross-identity matrix.
type IdentityProbe struct {
	IdentityID       string            `json:"identity_id"`
	AuthType         AuthType          `json:"auth_type"`
	AuthHeader       string            `json:"auth_header,omitempty"`
	Cookies          map[string]string `json:"cookies,omitempty"`
	ShouldHaveAccess bool              `json:"should_have_access"`
}

// IdentityResult is the exchange outcome for one identity. HasAccess is
// status in [200,400).
type IdentityResult struct {
	IdentityID     string `json:"identity_id"`
	Status         int    `json:"status,omitempty"`
	BodySHA256     string `json:"body_sha256,omitempty"`
	HasAccess      bool   `json:"has_access"`
	ExpectedAccess bool   `json:"expected_access"`
	DurationMs     int64  `json:"duration_ms"`
	Error          string `json:"error,omitempty"`
}

// CrossIdentityResult aggregates the matrix. Results follow the input
// identity order; a violation is any access outcome contradicting
// shouldHaveAccess.
type CrossIdentityResult struct {
	FindingID             string           `json:"finding_id"`
	Results               []IdentityResult `json:"results"`
	Violations            []string         `json:"violations"`
	AuthorizationEnforced bool             `json:"authorization_enforced"`
}
