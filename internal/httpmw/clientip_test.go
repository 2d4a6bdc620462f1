package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResolveClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		hops       int
		want       string
	}{
		{"private ignores xff without hops", "10.0.0.1:1234", "203.0.113.50", 0, "10.0.0.1"},
		{"public ignores xff", "203.0.113.1:1234", "10.0.0.1", 1, "203.0.113.1"},
		{"loopback not trusted", "127.0.0.1:1234", "203.0.113.50", 1, "127.0.0.1"},
		{"one hop takes rightmost", "10.0.0.1:1234", "198.51.100.7, 203.0.113.50", 1, "203.0.113.50"},
		{"two hops takes second from end", "10.0.0.1:1234", "198.51.100.7, 203.0.113.50, 10.0.0.9", 2, "203.0.113.50"},
		{"too few entries fails closed", "10.0.0.1:1234", "203.0.113.50", 3, "10.0.0.1"},
		{"garbage entry falls back to peer", "10.0.0.1:1234", "not-an-ip", 1, "10.0.0.1"},
		{"no xff", "10.0.0.1:1234", "", 1, "10.0.0.1"},
		{"ipv6 private", "[fd00::1]:1234", "2001:db8::1", 1, "2001:db8::1"},
		{"missing port", "203.0.113.1", "", 0, "203.0.113.1"},
		{"unparseable host", "nohost:1", "", 0, "0.0.0.0"},
		{"empty remote", "", "", 0, "0.0.0.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := resolveClientIP(r, tt.hops); got != tt.want {
				t.Fatalf("resolveClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveClientIP_StripsUntrustedHeaders(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.1:1234"
	r.Header.Set("X-Forwarded-For", "1.2.3.4")
	r.Header.Set("X-Forwarded-Proto", "https")
	resolveClientIP(r, 1)
	if r.Header.Get("X-Forwarded-For") != "" || r.Header.Get("X-Forwarded-Proto") != "" {
		t.Fatal("forwarded headers from public peer should be removed")
	}
}

func TestClientIPWithOptions_StoresInContext(t *testing.T) {
	var got string
	h := ClientIPWithOptions(ClientIPOptions{TrustedHops: 1})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClientIPFromContext(r.Context())
	}))
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.1.2.3:5555"
	r.Header.Set("X-Forwarded-For", "198.51.100.20")
	h.ServeHTTP(httptest.NewRecorder(), r)
	if got != "198.51.100.20" {
		t.Fatalf("client ip = %q", got)
	}
}

func TestWithClientIP_EmptyIsNoop(t *testing.T) {
	ctx := context.Background()
	if WithClientIP(ctx, "") != ctx {
		t.Fatal("empty ip should return ctx unchanged")
	}
	if ClientIPFromContext(ctx) != "" {
		t.Fatal("empty context should yield empty ip")
	}
}
