package httpmw

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResolveOrigin(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		hops       int
		want       string
	}{
		{"public peer ignores XFF", "203.0.113.1:1234", "10.0.0.1", 1, "203.0.113.1"},
		{"private peer without hops ignores XFF", "10.0.0.1:1234", "203.0.113.50", 0, "10.0.0.1"},
		{"single trusted hop takes rightmost", "10.0.0.1:1234", "198.51.100.7, 203.0.113.50", 1, "203.0.113.50"},
		{"two trusted hops", "10.0.0.1:1234", "198.51.100.7, 203.0.113.50, 10.0.0.9", 2, "203.0.113.50"},
		{"fewer entries than hops fails closed", "10.0.0.1:1234", "203.0.113.50", 3, "10.0.0.1"},
		{"garbage XFF entry keeps peer", "10.0.0.1:1234", "not-an-ip", 1, "10.0.0.1"},
		{"no XFF keeps peer", "10.0.0.1:1234", "", 1, "10.0.0.1"},
		{"ipv6 peer", "[2001:db8::1]:443", "", 0, "2001:db8::1"},
		{"peer without port", "203.0.113.1", "", 0, "203.0.113.1"},
		{"garbage peer is unresolved", "not-an-ip", "203.0.113.50", 1, ""},
		{"empty peer is unresolved", "", "", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := resolveOrigin(r, tt.hops); got != tt.want {
				t.Fatalf("resolveOrigin = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveOrigin_StripsUntrustedForwardedHeaders(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	r.RemoteAddr = "203.0.113.1:1234"
	r.Header.Set("X-Forwarded-For", "10.0.0.1")
	r.Header.Set("X-Forwarded-Proto", "https")

	resolveOrigin(r, 1)

	if r.Header.Get("X-Forwarded-For") != "" || r.Header.Get("X-Forwarded-Proto") != "" {
		t.Fatal("forwarded headers from an untrusted peer should be removed")
	}
}

func TestClientIPWithOptions_StoresInContext(t *testing.T) {
	var got string
	h := ClientIPWithOptions(ClientIPOptions{TrustedHops: 1})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClientIPFromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	r.RemoteAddr = "10.1.2.3:5555"
	r.Header.Set("X-Forwarded-For", "198.51.100.20")
	h.ServeHTTP(httptest.NewRecorder(), r)

	if got != "198.51.100.20" {
		t.Fatalf("ClientIPFromContext = %q", got)
	}
}

func TestClientIP_UnresolvedLeavesContextEmpty(t *testing.T) {
	var got = "sentinel"
	h := ClientIP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClientIPFromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	r.RemoteAddr = "bogus"
	h.ServeHTTP(httptest.NewRecorder(), r)

	if got != "" {
		t.Fatalf("ClientIPFromContext = %q, want empty", got)
	}
}

func TestClientIPWithOptions_TrustedPeer(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		hops   int
		want   bool
	}{
		{"private peer with hops", "10.1.2.3:5555", 1, true},
		{"private ipv6 peer with hops", "[fd00::1]:5555", 2, true},
		{"private peer without hops", "10.1.2.3:5555", 0, false},
		{"public peer with hops", "203.0.113.1:1234", 1, false},
		{"garbage peer", "bogus", 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got bool
			h := ClientIPWithOptions(ClientIPOptions{TrustedHops: tt.hops})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = TrustedPeerFromContext(r.Context())
			}))
			r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			r.RemoteAddr = tt.remote
			h.ServeHTTP(httptest.NewRecorder(), r)

			if got != tt.want {
				t.Fatalf("TrustedPeerFromContext = %v, want %v", got, tt.want)
			}
		})
	}
}
