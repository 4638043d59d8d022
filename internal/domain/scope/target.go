// Package scope implements the engagement scope guard: target matching
// against the contract allow/deny lists, the consumable budget ledger, and
// the approval policy engine. The Guard facade ties the three together
// behind an atomically swapped contract snapshot.
package scope

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var (
	ipv4TargetRe = regexp.MustCompile(`^(\d{1,3}(?:\.\d{1,3}){3})(?::(\d+))?$`)
	ipv6TargetRe = regexp.MustCompile(`^\[([0-9a-fA-F:.]+)\](?::(\d+))?$`)
	domainRe     = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]*[a-z0-9])?(?:\.[a-z0-9](?:[a-z0-9-]*[a-z0-9])?)*(?::\d+)?$`)
)

// schemeDefaultPorts resolves the port for URL targets without an explicit
// one. Unknown schemes resolve to no port.
var schemeDefaultPorts = map[string]int{
	"http":  80,
	"https": 443,
	"ssh":   22,
	"ftp":   21,
}

// Target is the parsed form of a candidate. Host is lowercased; IP is
// non-nil when Host is an IP literal. Port carries the explicit port or the
// scheme default; ExplicitPort distinguishes the two for the allowlist port
// gate.
type Target struct {
	Raw          string
	Host         string
	IP           net.IP
	Port         int
	ExplicitPort bool
	Path         string
}

// ParseTarget recognizes, in order: full URLs, IPv4 literals, bracketed
// IPv6 literals, and bare domains (each with an optional :port). Anything
// else is ErrInvalidTarget.
func ParseTarget(raw string) (*Target, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty target", ErrInvalidTarget)
	}

	if strings.Contains(trimmed, "://") {
		return parseURLTarget(raw, trimmed)
	}

	if m := ipv4TargetRe.FindStringSubmatch(trimmed); m != nil {
		ip := net.ParseIP(m[1])
		if ip == nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidTarget, raw)
		}
		t := &Target{Raw: raw, Host: m[1], IP: ip}
		if err := applyPort(t, m[2]); err != nil {
			return nil, err
		}
		return t, nil
	}

	if m := ipv6TargetRe.FindStringSubmatch(trimmed); m != nil {
		ip := net.ParseIP(m[1])
		if ip == nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidTarget, raw)
		}
		t := &Target{Raw: raw, Host: strings.ToLower(m[1]), IP: ip}
		if err := applyPort(t, m[2]); err != nil {
			return nil, err
		}
		return t, nil
	}

	lowered := strings.ToLower(trimmed)
	if domainRe.MatchString(lowered) {
		host, portStr := lowered, ""
		if i := strings.LastIndexByte(lowered, ':'); i >= 0 {
			host, portStr = lowered[:i], lowered[i+1:]
		}
		t := &Target{Raw: raw, Host: host}
		if err := applyPort(t, portStr); err != nil {
			return nil, err
		}
		return t, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrInvalidTarget, raw)
}

func parseURLTarget(raw, trimmed string) (*Target, error) {
	u, err := url.Parse(trimmed)
	if err != nil || u.Hostname() == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTarget, raw)
	}

	t := &Target{
		Raw:  raw,
		Host: strings.ToLower(u.Hostname()),
		Path: u.Path,
	}
	if u.RawQuery != "" {
		t.Path += "?" + u.RawQuery
	}
	t.IP = net.ParseIP(t.Host)

	if p := u.Port(); p != "" {
		if err := applyPort(t, p); err != nil {
			return nil, err
		}
		t.ExplicitPort = true
	} else {
		t.Port = schemeDefaultPorts[strings.ToLower(u.Scheme)]
	}
	return t, nil
}

func applyPort(t *Target, portStr string) error {
	if portStr == "" {
		return nil
	}
	p, err := strconv.Atoi(portStr)
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("%w: port %q out of range", ErrInvalidTarget, portStr)
	}
	t.Port = p
	t.ExplicitPort = true
	return nil
}

// IsIP reports whether the target host is an IP literal.
func (t *Target) IsIP() bool { return t.IP != nil }
