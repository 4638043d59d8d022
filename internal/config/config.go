// Package config carries the process configuration for ambit: the
// environment inputs every deployment sets plus the optional ambit.yaml
// for everything else. Environment variables bind by their exact names
// (SCOPE_FILE, FAIL_CLOSED, ...); nested and list-valued settings live
// in the file only.
package config

import (
	"log/slog"
	"time"
)

// Config is the resolved process configuration.
type Config struct {
	// ScopeFile is the engagement contract path. Required: without a
	// contract the guard denies everything.
	ScopeFile string `yaml:"scope_file" mapstructure:"scope_file" validate:"required"`

	// FailClosed makes a contract load failure fatal at startup. When
	// false the process starts degraded and answers deny-by-default.
	FailClosed bool `yaml:"fail_closed" mapstructure:"fail_closed"`

	// EngagementID overrides the contract identity.id for evidence and
	// session labeling. Empty means use the contract's id.
	EngagementID string `yaml:"engagement_id" mapstructure:"engagement_id"`

	// Headless controls browser visibility.
	Headless bool `yaml:"headless" mapstructure:"headless"`

	// BurpProxyURL is the interception proxy every browser session and
	// validator replay routes through.
	BurpProxyURL string `yaml:"burp_proxy_url" mapstructure:"burp_proxy_url" validate:"required,proxy_url"`

	// EvidenceDir is the root of the evidence file layout.
	EvidenceDir string `yaml:"evidence_dir" mapstructure:"evidence_dir" validate:"required"`

	// DefaultTimeoutMs is the per-operation deadline fallback in
	// milliseconds, used where the contract timeouts do not apply.
	DefaultTimeoutMs int `yaml:"default_timeout" mapstructure:"default_timeout" validate:"gte=100"`

	// MaxSessions caps live browser sessions.
	MaxSessions int `yaml:"max_sessions" mapstructure:"max_sessions" validate:"gte=1"`

	// EnableScopeValidation short-circuits scope checks to allow when
	// false. Serve logs loudly when it is off; budgets still apply.
	EnableScopeValidation bool `yaml:"enable_scope_validation" mapstructure:"enable_scope_validation"`

	// LogLevel selects the slog level for the stderr handler.
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`

	// Tools names the tool families to expose; empty means all.
	Tools []string `yaml:"tools" mapstructure:"tools" validate:"omitempty,dive,oneof=scope browser validator"`

	// OpsAddr enables the loopback health/metrics listener when set.
	OpsAddr string `yaml:"ops_addr" mapstructure:"ops_addr" validate:"omitempty,hostname_port"`

	// Telemetry turns on the OpenTelemetry stdout exporters.
	Telemetry bool `yaml:"telemetry" mapstructure:"telemetry"`

	// ApprovalDir is the spool for interactive approval requests.
	ApprovalDir string `yaml:"approval_dir" mapstructure:"approval_dir"`

	// AuditDir enables the decision trail when set: every scope, budget,
	// and approval decision lands there as JSON lines.
	AuditDir string `yaml:"audit_dir" mapstructure:"audit_dir"`

	// HistoryPath is the sqlite validation-history database. Set it to
	// an empty string in the file to disable persistence.
	HistoryPath string `yaml:"history_path" mapstructure:"history_path"`

	// ProxyCAFile is the interception proxy's CA certificate for the
	// validator's replay client. Empty skips target TLS verification,
	// which the proxy breaks anyway by re-signing hosts.
	ProxyCAFile string `yaml:"proxy_ca_file" mapstructure:"proxy_ca_file"`

	// LLM selects the page-analysis oracle endpoint.
	LLM LLMConfig `yaml:"llm" mapstructure:"llm"`
}

// LLMConfig points the oracle at an OpenAI-compatible chat-completions
// endpoint. Zero values fall back to the oracle adapter's defaults.
type LLMConfig struct {
	BaseURL   string `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`
	Model     string `yaml:"model" mapstructure:"model"`
	APIKeyEnv string `yaml:"api_key_env" mapstructure:"api_key_env"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens" validate:"omitempty,gte=1"`
}

// SetDefaults fills zero-valued string and numeric fields. Booleans and
// history_path default in InitViper instead: a zero check cannot tell
// an explicit false or empty string from unset.
func (c *Config) SetDefaults() {
	if c.BurpProxyURL == "" {
		c.BurpProxyURL = "http://127.0.0.1:8080"
	}
	if c.EvidenceDir == "" {
		c.EvidenceDir = "./evidence"
	}
	if c.DefaultTimeoutMs == 0 {
		c.DefaultTimeoutMs = 30000
	}
	if c.MaxSessions == 0 {
		c.MaxSessions = 5
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.ApprovalDir == "" {
		c.ApprovalDir = "./approvals"
	}
	// LLM fields stay zero; the oracle adapter applies its own endpoint
	// defaults and logs the effective model.
}

// DefaultTimeout returns the per-operation fallback as a duration.
func (c *Config) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutMs) * time.Millisecond
}

// Level maps the configured log level to slog. Unknown strings are
// caught by validation; this falls back to Info anyway.
func (c *Config) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
