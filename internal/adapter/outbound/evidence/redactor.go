// Package evidence stores artifacts on the local filesystem with a
// per-engagement JSONL manifest. Textual artifacts pass through the
// redactor before they touch disk so captured secrets never persist.
package evidence

import (
	"regexp"
	"strings"
)

// redactedPattern is one compiled secret matcher. replace is a
// regexp $-template; hostish patterns may name engagement targets and
// consult the allowlist per match.
type redactedPattern struct {
	name    string
	re      *regexp.Regexp
	replace string
	hostish bool
}

// Redactor scrubs secrets and PII out of textual evidence. Hosts and
// IPs on the engagement allowlist are left intact so the evidence stays
// actionable.
type Redactor struct {
	patterns []redactedPattern
	allowed  map[string]bool
}

// NewRedactor compiles the pattern set. allowedHosts are engagement
// targets (hostnames or IPs) exempt from host-shaped redactions.
func NewRedactor(allowedHosts []string) *Redactor {
	rawPatterns := []struct {
		name    string
		pattern string
		replace string
		hostish bool
	}{
		// JWTs before bearer so tokens in Authorization values name
		// their real shape.
		{
			name:    "JWT",
			pattern: `\beyJ[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]+\b`,
			replace: "[REDACTED:JWT]",
		},
		{
			name:    "BEARER_TOKEN",
			pattern: `(?i)\b(bearer)\s+[A-Za-z0-9\-._~+/]+=*`,
			replace: "$1 [REDACTED:BEARER_TOKEN]",
		},
		{
			name:    "BASIC_AUTH",
			pattern: `(?i)\b(basic)\s+[A-Za-z0-9+/]+={0,2}`,
			replace: "$1 [REDACTED:BASIC_AUTH]",
		},
		{
			name:    "API_KEY",
			pattern: `(?i)(x-api-key|api[_-]?key)(["']?\s*[:=]\s*["']?)[A-Za-z0-9\-._]{8,}`,
			replace: "$1$2[REDACTED:API_KEY]",
		},
		{
			name:    "AWS_KEY",
			pattern: `\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`,
			replace: "[REDACTED:AWS_KEY]",
		},
		{
			name:    "GITHUB_TOKEN",
			pattern: `\bgh[pousr]_[A-Za-z0-9]{36,}\b`,
			replace: "[REDACTED:GITHUB_TOKEN]",
		},
		{
			name:    "PRIVATE_IP",
			pattern: `\b(?:10\.\d{1,3}\.\d{1,3}\.\d{1,3}|192\.168\.\d{1,3}\.\d{1,3}|172\.(?:1[6-9]|2\d|3[01])\.\d{1,3}\.\d{1,3})\b`,
			replace: "[REDACTED:PRIVATE_IP]",
			hostish: true,
		},
		{
			name:    "EMAIL",
			pattern: `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`,
			replace: "[REDACTED:EMAIL]",
		},
		{
			name:    "SSN",
			pattern: `\b\d{3}-\d{2}-\d{4}\b`,
			replace: "[REDACTED:SSN]",
		},
		{
			name:    "CREDIT_CARD",
			pattern: `\b(?:\d{4}[ -]?){3}\d{4}\b`,
			replace: "[REDACTED:CREDIT_CARD]",
		},
	}

	allowed := make(map[string]bool, len(allowedHosts))
	for _, h := range allowedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			allowed[h] = true
		}
	}

	compiled := make([]redactedPattern, 0, len(rawPatterns))
	for _, rp := range rawPatterns {
		compiled = append(compiled, redactedPattern{
			name:    rp.name,
			re:      regexp.MustCompile(rp.pattern),
			replace: rp.replace,
			hostish: rp.hostish,
		})
	}
	return &Redactor{patterns: compiled, allowed: allowed}
}

// Redact applies every pattern in order and returns the scrubbed text.
func (r *Redactor) Redact(data []byte) []byte {
	s := string(data)
	for _, p := range r.patterns {
		if p.hostish {
			s = p.re.ReplaceAllStringFunc(s, func(m string) string {
				if r.allowed[strings.ToLower(m)] {
					return m
				}
				return p.replace
			})
			continue
		}
		s = p.re.ReplaceAllString(s, p.replace)
	}
	return []byte(s)
}
