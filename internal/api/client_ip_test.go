package api

import (
	"net/http/httptest"
	"testing"
)

func TestClientIPResolverDirectConnectionIgnoresForwardedHeaders(t *testing.T) {
	resolver, err := NewClientIPResolver(nil)
	if err != nil {
		t.Fatalf("NewClientIPResolver error: %v", err)
	}

	req := httptest.NewRequest("GET", "http://localhost/test", nil)
	req.RemoteAddr = "203.0.113.7:43210"
	req.Header.Set("X-Forwarded-For", "198.51.100.5")
	req.Header.Set("X-Real-IP", "198.51.100.6")

	if got := resolver.Resolve(req); got != "203.0.113.7" {
		t.Fatalf("Resolve() = %q, want %q", got, "203.0.113.7")
	}
}

func TestClientIPResolverTrustedProxyUsesForwardedFor(t *testing.T) {
	resolver, err := NewClientIPResolver([]string{"172.30.0.10/32"})
	if err != nil {
		t.Fatalf("NewClientIPResolver error: %v", err)
	}

	req := httptest.NewRequest("GET", "http://localhost/test", nil)
	req.RemoteAddr = "172.30.0.10:12345"
	req.Header.Set("X-Forwarded-For", "198.51.100.8, 172.30.0.10")

	if got := resolver.Resolve(req); got != "198.51.100.8" {
		t.Fatalf("Resolve() = %q, want %q", got, "198.51.100.8")
	}
}

func TestClientIPResolverTrustedProxyFallsBackToRealIP(t *testing.T) {
	resolver, err := NewClientIPResolver([]string{"172.30.0.10/32"})
	if err != nil {
		t.Fatalf("NewClientIPResolver error: %v", err)
	}

	req := httptest.NewRequest("GET", "http://localhost/test", nil)
	req.RemoteAddr = "172.30.0.10:12345"
	req.Header.Set("X-Forwarded-For", "not-an-ip")
	req.Header.Set("X-Real-IP", "198.51.100.10")

	if got := resolver.Resolve(req); got != "198.51.100.10" {
		t.Fatalf("Resolve() = %q, want %q", got, "198.51.100.10")
	}
}

func TestClientIPResolverKeyDropsPort(t *testing.T) {
	resolver, err := NewClientIPResolver([]string{"10.0.0.0/8"})
	if err != nil {
		t.Fatalf("NewClientIPResolver error: %v", err)
	}

	req := httptest.NewRequest("GET", "http://localhost/upload", nil)
	req.RemoteAddr = "[2001:db8::1]:5555"

	key, err := resolver.Key(req)
	if err != nil {
		t.Fatalf("Key() error = %v", err)
	}
	if key != "2001:db8::1" {
		t.Fatalf("Key() = %q, want %q", key, "2001:db8::1")
	}
}

func TestNewClientIPResolverRejectsBadCIDR(t *testing.T) {
	if _, err := NewClientIPResolver([]string{"10.0.0.0/99"}); err == nil {
		t.Fatal("NewClientIPResolver() error = nil, want error")
	}
}

func TestClientIPResolverIgnoresSpoofedForwardedPrefix(t *testing.T) {
	resolver, err := NewClientIPResolver([]string{"10.0.0.0/8"})
	if err != nil {
		t.Fatalf("NewClientIPResolver error: %v", err)
	}

	req := httptest.NewRequest("GET", "http://localhost/poll", nil)
	req.RemoteAddr = "10.0.0.1:8080"
	req.Header.Set("X-Forwarded-For", "6.6.6.6, 198.51.100.9, 10.0.0.2")

	if got := resolver.Resolve(req); got != "198.51.100.9" {
		t.Fatalf("Resolve() = %q, want %q", got, "198.51.100.9")
	}
}

func TestClientIPResolverUnmapsIPv4InIPv6(t *testing.T) {
	resolver, err := NewClientIPResolver([]string{"172.30.0.10"})
	if err != nil {
		t.Fatalf("NewClientIPResolver error: %v", err)
	}

	req := httptest.NewRequest("GET", "http://localhost/poll", nil)
	req.RemoteAddr = "[::ffff:172.30.0.10]:443"
	req.Header.Set("X-Real-IP", "198.51.100.11")

	if got := resolver.Resolve(req); got != "198.51.100.11" {
		t.Fatalf("Resolve() = %q, want %q", got, "198.51.100.11")
	}
}
