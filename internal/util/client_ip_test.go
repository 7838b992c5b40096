package util

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientIP(t *testing.T) {
	trusted, err := NewTrustedProxies([]string{"172.16.0.0/12", " ", "::1"})
	if err != nil {
		t.Fatalf("new trusted proxies: %v", err)
	}

	cases := []struct {
		name    string
		remote  string
		headers map[string]string
		trusted *TrustedProxies
		want    string
	}{
		{"untrusted peer ignores headers", "198.51.100.10:5000", map[string]string{"X-Forwarded-For": "203.0.113.5"}, trusted, "198.51.100.10"},
		{"nil trust list ignores headers", "172.16.0.2:5000", map[string]string{"X-Real-IP": "203.0.113.9"}, nil, "172.16.0.2"},
		{"trusted peer uses forwarded client", "172.16.0.2:5000", map[string]string{"X-Forwarded-For": "203.0.113.5"}, trusted, "203.0.113.5"},
		{"skips trusted hops from the right", "172.16.0.2:5000", map[string]string{"X-Forwarded-For": "203.0.113.5, 198.51.100.7, 172.20.1.1"}, trusted, "198.51.100.7"},
		{"x-real-ip when forwarded-for is junk", "[::1]:8080", map[string]string{"X-Forwarded-For": "nope", "X-Real-IP": "203.0.113.8"}, trusted, "203.0.113.8"},
		{"every hop trusted keeps the origin", "172.16.0.2:5000", map[string]string{"X-Forwarded-For": "172.16.9.9, 172.17.0.1"}, trusted, "172.16.9.9"},
		{"ipv4-mapped peer is unmapped", "[::ffff:198.51.100.3]:443", nil, trusted, "198.51.100.3"},
		{"unparseable remote returned as is", "pipe", nil, trusted, "pipe"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/login", nil)
			req.RemoteAddr = tc.remote
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			if got := ClientIP(req, tc.trusted); got != tc.want {
				t.Fatalf("client ip = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewTrustedProxies(t *testing.T) {
	if tp, err := NewTrustedProxies(nil); err != nil || tp != nil {
		t.Fatalf("empty list should yield nil, got %v %v", tp, err)
	}
	if _, err := NewTrustedProxies([]string{"10.0.0.0/33"}); err == nil {
		t.Fatalf("expected error for invalid prefix")
	}
	if _, err := NewTrustedProxies([]string{"proxy.internal"}); err == nil {
		t.Fatalf("expected error for hostname entry")
	}
}
