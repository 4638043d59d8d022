package config

import (
	"strings"
	"testing"
)

// minimalValidConfig returns the smallest configuration Validate
// accepts.
func minimalValidConfig() *Config {
	return &Config{
		ScopeFile:        "/engagements/acme/contract.yaml",
		BurpProxyURL:     "http://127.0.0.1:8080",
		EvidenceDir:      "./evidence",
		DefaultTimeoutMs: 30000,
		MaxSessions:      5,
		LogLevel:         "info",
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()

	if err := minimalValidConfig().Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_MissingScopeFile(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.ScopeFile = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error, got nil")
	}
	if !strings.Contains(err.Error(), "ScopeFile") || !strings.Contains(err.Error(), "required") {
		t.Errorf("error = %q, want a required ScopeFile message", err.Error())
	}
}

func TestValidate_ProxyURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		url   string
		valid bool
	}{
		{"plain http", "http://127.0.0.1:8080", true},
		{"https", "https://proxy.lab.internal:8443", true},
		{"no port", "http://proxy.internal", true},
		{"socks scheme", "socks5://127.0.0.1:1080", false},
		{"missing host", "http://", false},
		{"bare host", "127.0.0.1:8080", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := minimalValidConfig()
			cfg.BurpProxyURL = tt.url
			err := cfg.Validate()
			if tt.valid && err != nil {
				t.Errorf("Validate(%q) error: %v", tt.url, err)
			}
			if !tt.valid && err == nil {
				t.Errorf("Validate(%q) succeeded, want proxy_url violation", tt.url)
			}
		})
	}
}

func TestValidate_TimeoutTooLow(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.DefaultTimeoutMs = 50

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error, got nil")
	}
	if !strings.Contains(err.Error(), "at least 100") {
		t.Errorf("error = %q, want an at-least-100 message", err.Error())
	}
}

func TestValidate_BadLogLevel(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.LogLevel = "trace"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error, got nil")
	}
	if !strings.Contains(err.Error(), "one of") {
		t.Errorf("error = %q, want a one-of message", err.Error())
	}
}

func TestValidate_BadToolFamily(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Tools = []string{"scope", "proxy"}

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() accepted unknown tool family")
	}

	cfg.Tools = []string{"scope", "browser", "validator"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() rejected valid families: %v", err)
	}
}

func TestValidate_OpsAddr(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.OpsAddr = "127.0.0.1:9290"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() rejected valid ops_addr: %v", err)
	}

	cfg.OpsAddr = "9290"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() accepted ops_addr without a host")
	}
}

func TestValidate_CollectsAllViolations(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.ScopeFile = ""
	cfg.MaxSessions = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error, got nil")
	}
	msg := err.Error()
	if !strings.Contains(msg, "ScopeFile") || !strings.Contains(msg, "MaxSessions") {
		t.Errorf("error = %q, want both violations reported", msg)
	}
}
