package scope

import (
	"errors"
	"testing"
)

func TestParseTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		raw          string
		wantHost     string
		wantPort     int
		wantExplicit bool
		wantIP       bool
		wantPath     string
		wantErr      bool
	}{
		{
			name:     "https url default port",
			raw:      "https://API.Example.com/v1/Ping",
			wantHost: "api.example.com",
			wantPort: 443,
			wantPath: "/v1/Ping",
		},
		{
			name:         "http url explicit port and query",
			raw:          "http://example.com:8080/admin?x=1",
			wantHost:     "example.com",
			wantPort:     8080,
			wantExplicit: true,
			wantPath:     "/admin?x=1",
		},
		{
			name:     "ssh url default port",
			raw:      "ssh://bastion.example.com",
			wantHost: "bastion.example.com",
			wantPort: 22,
		},
		{
			name:     "ftp url default port",
			raw:      "ftp://files.example.com",
			wantHost: "files.example.com",
			wantPort: 21,
		},
		{
			name:     "unknown scheme no default",
			raw:      "gopher://example.com",
			wantHost: "example.com",
			wantPort: 0,
		},
		{
			name:         "ipv4 literal with port",
			raw:          "10.0.0.17:8080",
			wantHost:     "10.0.0.17",
			wantPort:     8080,
			wantExplicit: true,
			wantIP:       true,
		},
		{
			name:     "ipv4 literal bare",
			raw:      "192.168.1.1",
			wantHost: "192.168.1.1",
			wantIP:   true,
		},
		{
			name:     "ipv4 inside url",
			raw:      "http://10.0.0.17/",
			wantHost: "10.0.0.17",
			wantPort: 80,
			wantIP:   true,
			wantPath: "/",
		},
		{
			name:         "ipv6 bracketed with port",
			raw:          "[2001:db8::1]:443",
			wantHost:     "2001:db8::1",
			wantPort:     443,
			wantExplicit: true,
			wantIP:       true,
		},
		{
			name:     "bare domain",
			raw:      "Api.Example.COM",
			wantHost: "api.example.com",
		},
		{
			name:         "domain with port",
			raw:          "api.example.com:8443",
			wantHost:     "api.example.com",
			wantPort:     8443,
			wantExplicit: true,
		},
		{name: "empty", raw: "   ", wantErr: true},
		{name: "bad ipv4 octet", raw: "300.1.1.1", wantErr: true},
		{name: "port out of range", raw: "api.example.com:70000", wantErr: true},
		{name: "underscore host", raw: "bad_host.example.com", wantErr: true},
		{name: "url without host", raw: "https://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseTarget(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTarget) {
					t.Fatalf("ParseTarget(%q) error = %v, want ErrInvalidTarget", tt.raw, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTarget(%q) error = %v", tt.raw, err)
			}
			if got.Host != tt.wantHost {
				t.Errorf("Host = %q, want %q", got.Host, tt.wantHost)
			}
			if got.Port != tt.wantPort {
				t.Errorf("Port = %d, want %d", got.Port, tt.wantPort)
			}
			if got.ExplicitPort != tt.wantExplicit {
				t.Errorf("ExplicitPort = %v, want %v", got.ExplicitPort, tt.wantExplicit)
			}
			if got.IsIP() != tt.wantIP {
				t.Errorf("IsIP() = %v, want %v", got.IsIP(), tt.wantIP)
			}
			if got.Path != tt.wantPath {
				t.Errorf("Path = %q, want %q", got.Path, tt.wantPath)
			}
		})
	}
}
