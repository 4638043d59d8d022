package scope

import (
	"fmt"
	"net"
	"strings"

	"github.com/ambit-sec/ambit/internal/domain/contract"
)

// Decision is the outcome of matching one target against the contract.
// MatchedRule names the first rule that decided the outcome, formatted
// "denylist.domains: *.prod.example.com", to make audit logs actionable.
type Decision struct {
	Valid       bool   `json:"valid"`
	Reason      string `json:"reason,omitempty"`
	MatchedRule string `json:"matched_rule,omitempty"`
}

type cidrRule struct {
	raw string
	net *net.IPNet
}

// Matcher answers allow/deny for parsed targets. Built once per contract
// snapshot; immutable and safe for concurrent use.
type Matcher struct {
	allowDomains []string
	allowRanges  []cidrRule
	allowPorts   map[int]struct{}

	denyDomains  []string
	denyRanges   []cidrRule
	denyPorts    map[int]struct{}
	denyKeywords []string
}

// NewMatcher compiles the contract allow/deny lists. The contract must
// already be normalized; CIDR entries were schema-validated but a parse
// failure here is still an error rather than a silent skip.
func NewMatcher(c *contract.Contract) (*Matcher, error) {
	m := &Matcher{
		allowDomains: c.Allowlist.Domains,
		denyDomains:  c.Denylist.Domains,
		denyKeywords: c.Denylist.PathKeywords,
		allowPorts:   portSet(c.Allowlist.Ports),
		denyPorts:    portSet(c.Denylist.Ports),
	}

	var err error
	if m.allowRanges, err = compileRanges(c.Allowlist.IPRanges); err != nil {
		return nil, fmt.Errorf("allowlist: %w", err)
	}
	if m.denyRanges, err = compileRanges(c.Denylist.IPRanges); err != nil {
		return nil, fmt.Errorf("denylist: %w", err)
	}
	return m, nil
}

func portSet(ports []int) map[int]struct{} {
	if len(ports) == 0 {
		return nil
	}
	s := make(map[int]struct{}, len(ports))
	for _, p := range ports {
		s[p] = struct{}{}
	}
	return s
}

func compileRanges(cidrs []string) ([]cidrRule, error) {
	rules := make([]cidrRule, 0, len(cidrs))
	for _, c := range cidrs {
		_, ipnet, err := net.ParseCIDR(strings.TrimSpace(c))
		if err != nil {
			return nil, fmt.Errorf("parse CIDR %q: %w", c, err)
		}
		rules = append(rules, cidrRule{raw: strings.TrimSpace(c), net: ipnet})
	}
	return rules, nil
}

// Decide parses and matches a raw target. Parse failures are invalid
// decisions, not errors: the caller asked a policy question and gets a
// policy answer.
func (m *Matcher) Decide(raw string) Decision {
	t, err := ParseTarget(raw)
	if err != nil {
		return Decision{Valid: false, Reason: "Invalid target format"}
	}
	return m.DecideTarget(t)
}

// DecideTarget applies the deny-wins decision order: every denylist rule is
// checked before any allowlist rule.
func (m *Matcher) DecideTarget(t *Target) Decision {
	// Denylist. Port checks use the resolved port, scheme defaults included.
	if !t.IsIP() {
		for _, pattern := range m.denyDomains {
			if matchDomain(pattern, t.Host) {
				return Decision{
					Valid:       false,
					Reason:      "Domain is denylisted",
					MatchedRule: "denylist.domains: " + pattern,
				}
			}
		}
	}
	if t.IsIP() {
		for _, r := range m.denyRanges {
			if r.net.Contains(t.IP) {
				return Decision{
					Valid:       false,
					Reason:      "IP is denylisted",
					MatchedRule: "denylist.ip_ranges: " + r.raw,
				}
			}
		}
	}
	if t.Port != 0 {
		if _, denied := m.denyPorts[t.Port]; denied {
			return Decision{
				Valid:       false,
				Reason:      fmt.Sprintf("Port %d is denylisted", t.Port),
				MatchedRule: fmt.Sprintf("denylist.ports: %d", t.Port),
			}
		}
	}
	if t.Path != "" {
		loweredPath := strings.ToLower(t.Path)
		for _, kw := range m.denyKeywords {
			if kw != "" && strings.Contains(loweredPath, kw) {
				return Decision{
					Valid:       false,
					Reason:      "Path contains denylisted keyword",
					MatchedRule: "denylist.path_keywords: " + kw,
				}
			}
		}
	}

	// Allowlist. IP literals match ip_ranges, everything else domains.
	var matched string
	if t.IsIP() {
		for _, r := range m.allowRanges {
			if r.net.Contains(t.IP) {
				matched = "allowlist.ip_ranges: " + r.raw
				break
			}
		}
		if matched == "" {
			return Decision{Valid: false, Reason: "IP not in allowlist"}
		}
	} else {
		for _, pattern := range m.allowDomains {
			if matchDomain(pattern, t.Host) {
				matched = "allowlist.domains: " + pattern
				break
			}
		}
		if matched == "" {
			return Decision{Valid: false, Reason: "Domain not in allowlist"}
		}
	}

	// Port gate applies only to explicit ports; bare targets pass.
	if len(m.allowPorts) > 0 && t.ExplicitPort {
		if _, ok := m.allowPorts[t.Port]; !ok {
			return Decision{
				Valid:  false,
				Reason: fmt.Sprintf("Port %d is not in allowlist", t.Port),
			}
		}
	}

	return Decision{Valid: true, MatchedRule: matched}
}

// matchDomain applies the wildcard rule: "*.example.com" matches any strict
// subdomain of example.com but never the bare suffix. Exact patterns match
// only their literal form. Both sides are lowercased at load/parse time.
func matchDomain(pattern, host string) bool {
	if suffix, ok := strings.CutPrefix(pattern, "*."); ok {
		return strings.HasSuffix(host, "."+suffix)
	}
	return host == pattern
}
