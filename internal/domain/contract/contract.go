// Package contract defines the engagement contract model: the declarative
// document that authorizes targets, budgets, rate limits, and approval policy
// for one engagement. Contracts are loaded once, validated against a closed
// schema, normalized, and then treated as immutable; replacing one is an
// explicit atomic swap owned by the scope guard.
package contract

import "strings"

// ApprovalMode selects how gated actions are decided.
type ApprovalMode string

const (
	ModeInteractive ApprovalMode = "INTERACTIVE"
	ModeAutoApprove ApprovalMode = "AUTO_APPROVE"
	ModeDenyAll     ApprovalMode = "DENY_ALL"
)

// Action is a terminal approval outcome applied by policy or escalation.
type Action string

const (
	ActionDeny  Action = "DENY"
	ActionAllow Action = "ALLOW"
)

// RuleEffect is the outcome of a matching action rule.
type RuleEffect string

const (
	EffectAllow           RuleEffect = "allow"
	EffectDeny            RuleEffect = "deny"
	EffectRequireApproval RuleEffect = "require_approval"
)

// CredentialType classifies how a stored credential is presented on the wire.
type CredentialType string

const (
	CredentialBasic  CredentialType = "basic"
	CredentialBearer CredentialType = "bearer"
	CredentialAPIKey CredentialType = "api_key"
	CredentialOAuth2 CredentialType = "oauth2"
	CredentialCustom CredentialType = "custom"
)

// Contract is the root engagement document. Field tags define the wire
// schema for both YAML and JSON; decoding is strict, unknown keys reject.
type Contract struct {
	SchemaVersion  string         `yaml:"schema_version" json:"schema_version" validate:"required,schema_version"`
	Identity       Identity       `yaml:"identity" json:"identity"`
	Allowlist      Allowlist      `yaml:"allowlist" json:"allowlist"`
	Denylist       Denylist       `yaml:"denylist" json:"denylist"`
	Constraints    Constraints    `yaml:"constraints" json:"constraints"`
	ApprovalPolicy ApprovalPolicy `yaml:"approval_policy" json:"approval_policy"`
	Actions        Actions        `yaml:"actions" json:"actions"`
	Credentials    []Credential   `yaml:"credentials" json:"credentials" validate:"dive"`

	// ContentHash is the xxhash of the raw contract bytes, set by Load/Parse.
	// It identifies the loaded revision in status output and reload logs.
	ContentHash string `yaml:"-" json:"-"`
}

// Identity names the engagement and its window. Dates are informational;
// budget duration is measured from ledger start, not from these.
type Identity struct {
	ID        string `yaml:"id" json:"id" validate:"required"`
	Name      string `yaml:"name" json:"name"`
	Client    string `yaml:"client" json:"client"`
	StartDate string `yaml:"start_date" json:"start_date" validate:"omitempty,iso_date"`
	EndDate   string `yaml:"end_date" json:"end_date" validate:"omitempty,iso_date"`
	Timezone  string `yaml:"timezone" json:"timezone"`
}

// Allowlist declares what may be touched. At least one of Domains or
// IPRanges must be non-empty (checked in Validate).
type Allowlist struct {
	Domains  []string `yaml:"domains" json:"domains"`
	IPRanges []string `yaml:"ip_ranges" json:"ip_ranges" validate:"dive,cidr"`
	Ports    []int    `yaml:"ports" json:"ports" validate:"dive,min=1,max=65535"`
	Services []string `yaml:"services" json:"services"`
}

// Denylist declares what must never be touched. Deny entries win over any
// allowlist overlap.
type Denylist struct {
	Domains      []string `yaml:"domains" json:"domains"`
	IPRanges     []string `yaml:"ip_ranges" json:"ip_ranges" validate:"dive,cidr"`
	Ports        []int    `yaml:"ports" json:"ports" validate:"dive,min=1,max=65535"`
	PathKeywords []string `yaml:"path_keywords" json:"path_keywords"`
}

// Constraints bound the blast radius of the engagement.
type Constraints struct {
	Rate     Rate     `yaml:"rate" json:"rate"`
	Budget   Budget   `yaml:"budget" json:"budget"`
	Timeouts Timeouts `yaml:"timeouts" json:"timeouts"`
}

// Rate is the token-bucket shape: capacity Burst, refill RPS tokens/sec.
type Rate struct {
	RPS           float64 `yaml:"rps" json:"rps" validate:"min=0.1"`
	MaxConcurrent int     `yaml:"max_concurrent" json:"max_concurrent" validate:"min=1"`
	Burst         int     `yaml:"burst" json:"burst" validate:"min=1"`
}

// Budget caps consumable request counts for the whole engagement.
type Budget struct {
	MaxTotalRequests int `yaml:"max_total_requests" json:"max_total_requests" validate:"min=1"`
	MaxPerTarget     int `yaml:"max_per_target" json:"max_per_target" validate:"min=1"`
	MaxDurationHours int `yaml:"max_duration_hours" json:"max_duration_hours" validate:"min=1"`
}

// Timeouts are per-request deadlines in milliseconds.
type Timeouts struct {
	ConnectMs int `yaml:"connect_ms" json:"connect_ms" validate:"min=100"`
	ReadMs    int `yaml:"read_ms" json:"read_ms" validate:"min=100"`
	TotalMs   int `yaml:"total_ms" json:"total_ms" validate:"min=100"`
}

// ApprovalPolicy governs gated actions. TimeoutSec bounds the interactive
// wait; DefaultAction is the fallback when an escalation entry is unset.
type ApprovalPolicy struct {
	Mode          ApprovalMode `yaml:"mode" json:"mode" validate:"required,oneof=INTERACTIVE AUTO_APPROVE DENY_ALL"`
	TimeoutSec    int          `yaml:"timeout_sec" json:"timeout_sec" validate:"omitempty,min=1"`
	DefaultAction Action       `yaml:"default_action" json:"default_action" validate:"omitempty,oneof=DENY ALLOW"`
	Escalation    Escalation   `yaml:"escalation" json:"escalation"`
}

// Escalation maps approval-wait failures to terminal actions.
type Escalation struct {
	OnTimeout Action `yaml:"on_timeout" json:"on_timeout" validate:"omitempty,oneof=DENY ALLOW"`
	OnError   Action `yaml:"on_error" json:"on_error" validate:"omitempty,oneof=DENY ALLOW"`
	Notify    string `yaml:"notify" json:"notify"`
}

// Actions refines approval policy per action name. Forbidden and
// RequiresApproval are glob patterns over action names; Rules are evaluated
// in order, first match wins.
type Actions struct {
	Forbidden        []string     `yaml:"forbidden" json:"forbidden" validate:"dive,action_glob"`
	RequiresApproval []string     `yaml:"requires_approval" json:"requires_approval" validate:"dive,action_glob"`
	Rules            []ActionRule `yaml:"rules" json:"rules" validate:"dive"`
}

// ActionRule gates actions by a CEL condition over {action, details}.
// Expression compilation is checked by the rule engine at load time.
type ActionRule struct {
	Name   string     `yaml:"name" json:"name" validate:"required"`
	When   string     `yaml:"when" json:"when" validate:"required"`
	Effect RuleEffect `yaml:"effect" json:"effect" validate:"required,oneof=allow deny require_approval"`
}

// Credential declares a test identity. Secret material is referenced by
// environment variable name and resolved at access time, never stored.
type Credential struct {
	ID          string         `yaml:"id" json:"id" validate:"required"`
	Type        CredentialType `yaml:"type" json:"type" validate:"required,oneof=basic bearer api_key oauth2 custom"`
	UsernameEnv string         `yaml:"username_env" json:"username_env"`
	PasswordEnv string         `yaml:"password_env" json:"password_env"`
	TokenEnv    string         `yaml:"token_env" json:"token_env"`
	HeaderName  string         `yaml:"header_name" json:"header_name"`
	CookieEnv   string         `yaml:"cookie_env" json:"cookie_env"`
	Scope       []string       `yaml:"scope" json:"scope"`
}

// Normalize applies in-place canonicalization: domains and path keywords are
// trimmed and lowercased so matching can compare verbatim. IP ranges are left
// untouched. Safe to call more than once.
func (c *Contract) Normalize() {
	lowerAll(c.Allowlist.Domains)
	lowerAll(c.Denylist.Domains)
	lowerAll(c.Denylist.PathKeywords)
}

func lowerAll(entries []string) {
	for i, e := range entries {
		entries[i] = strings.ToLower(strings.TrimSpace(e))
	}
}

// HasTimeWindow reports whether both engagement dates are set.
func (c *Contract) HasTimeWindow() bool {
	return c.Identity.StartDate != "" && c.Identity.EndDate != ""
}
