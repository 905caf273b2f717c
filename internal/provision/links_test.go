package provision

import (
	"net/url"
	"strings"
	"testing"

	"melon-bot/internal/db"
)

func TestBuildSingleLink(t *testing.T) {
	ss, err := ParseStreamSettings(`{
		"network": "ws",
		"security": "tls",
		"wsSettings": {"path": "/ray", "headers": {"host": "cdn.example.com"}},
		"tlsSettings": {"serverName": "cdn.example.com"}
	}`)
	if err != nil {
		t.Fatalf("ParseStreamSettings: %v", err)
	}

	link := BuildSingleLink("uuid-1", "panel.example.com", 443, ss, "Месяц 50ГБ")

	if !strings.HasPrefix(link, "vless://uuid-1@panel.example.com:443?") {
		t.Fatalf("bad link prefix: %s", link)
	}

	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("link does not parse: %v", err)
	}
	q := u.Query()
	if q.Get("type") != "ws" || q.Get("security") != "tls" {
		t.Errorf("type/security = %s/%s", q.Get("type"), q.Get("security"))
	}
	if q.Get("path") != "/ray" || q.Get("host") != "cdn.example.com" || q.Get("sni") != "cdn.example.com" {
		t.Errorf("ws/tls params lost: %s", link)
	}
	if q.Get("encryption") != "" {
		t.Error("encryption param must be absent with tls")
	}
	if u.Fragment != "Месяц 50ГБ" {
		t.Errorf("fragment = %q", u.Fragment)
	}
}

func TestBuildSingleLinkNoSecurity(t *testing.T) {
	link := BuildSingleLink("uuid-2", "1.2.3.4", 8080, StreamSettings{}, "Trial")

	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("link does not parse: %v", err)
	}
	q := u.Query()
	if q.Get("security") != "none" {
		t.Errorf("security = %s, want none", q.Get("security"))
	}
	if q.Get("encryption") != "none" {
		t.Error("security none must add encryption=none")
	}
	if q.Get("type") != "tcp" {
		t.Errorf("type = %s, want tcp default", q.Get("type"))
	}
}

func TestBuildSubscriptionLink(t *testing.T) {
	tests := []struct {
		name     string
		server   db.Server
		subID    string
		expected string
	}{
		{
			name:     "Https with port and path",
			server:   db.Server{SubDomain: "sub.example.com", SubPort: 2096, SubPath: "/s/", SubHTTPS: true},
			subID:    "abc123",
			expected: "https://sub.example.com:2096/s/abc123",
		},
		{
			name:     "Http default path",
			server:   db.Server{SubDomain: "sub.example.com"},
			subID:    "abc123",
			expected: "http://sub.example.com/sub/abc123",
		},
		{
			name:     "Path without slashes is normalized",
			server:   db.Server{SubDomain: "sub.example.com", SubPath: "feed", SubHTTPS: true},
			subID:    "xyz",
			expected: "https://sub.example.com/feed/xyz",
		},
		{
			name:     "No domain means no link",
			server:   db.Server{},
			subID:    "abc123",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildSubscriptionLink(&tt.server, tt.subID); got != tt.expected {
				t.Errorf("BuildSubscriptionLink = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestFallbackSubscriptionLink(t *testing.T) {
	if got := FallbackSubscriptionLink("https://panel.example.com/", "abc"); got != "https://panel.example.com/sub/abc" {
		t.Errorf("fallback = %q", got)
	}
	if got := FallbackSubscriptionLink("", "abc"); got != "" {
		t.Errorf("fallback with empty base = %q, want empty", got)
	}
}

func TestBuildTunnelLink(t *testing.T) {
	server := db.Server{TunnelAddress: "tunnel.example.net", TunnelPort: 2083, TunnelTLS: true}
	ss := StreamSettings{Network: "ws"}

	link := BuildTunnelLink("uuid-3", &server, ss, "🇩🇪", "alice1")

	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("link does not parse: %v", err)
	}
	if u.Host != "tunnel.example.net:2083" {
		t.Errorf("host = %s", u.Host)
	}
	if u.Query().Get("security") != "tls" {
		t.Errorf("security = %s, want tls", u.Query().Get("security"))
	}
	if u.Fragment != "🇩🇪-alice1" {
		t.Errorf("fragment = %q, want flag-username", u.Fragment)
	}

	// Без TLS появляется encryption=none
	server.TunnelTLS = false
	link = BuildTunnelLink("uuid-3", &server, ss, "", "alice1")
	u, _ = url.Parse(link)
	if u.Query().Get("security") != "none" || u.Query().Get("encryption") != "none" {
		t.Errorf("plain tunnel params wrong: %s", link)
	}
	if u.Fragment != "alice1" {
		t.Errorf("fragment without flag = %q", u.Fragment)
	}
}

func TestHostFromURL(t *testing.T) {
	tests := []struct {
		raw      string
		expected string
	}{
		{"https://panel.example.com:2053/path", "panel.example.com"},
		{"http://1.2.3.4:8080", "1.2.3.4"},
		{"panel.example.com", "panel.example.com"},
	}
	for _, tt := range tests {
		if got := hostFromURL(tt.raw); got != tt.expected {
			t.Errorf("hostFromURL(%q) = %q, want %q", tt.raw, got, tt.expected)
		}
	}
}
