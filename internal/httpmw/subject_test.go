package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// subjectBehindProxy runs Subject inside ClientIPWithOptions the way the
// public server chains them.
func subjectBehindProxy(header string, hops int, got, seen *string) http.Handler {
	return Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = SubjectFromContext(r.Context())
		name := header
		if name == "" {
			name = DefaultSubjectHeader
		}
		*seen = r.Header.Get(name)
	}),
		ClientIPWithOptions(ClientIPOptions{TrustedHops: hops}),
		Subject(header),
	)
}

func TestSubject(t *testing.T) {
	tests := []struct {
		name   string
		header string
		value  string
		want   string
	}{
		{"default header", "", "u1", "u1"},
		{"custom header", "X-User", "u2", "u2"},
		{"trimmed", "", "  u3  ", "u3"},
		{"empty is anonymous", "", "", ""},
		{"inner space rejected", "", "u 1", ""},
		{"control char rejected", "", "u\x001", ""},
		{"oversized rejected", "", strings.Repeat("a", 129), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got, seen string
			h := subjectBehindProxy(tt.header, 1, &got, &seen)

			r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			r.RemoteAddr = "10.0.0.2:5555"
			name := tt.header
			if name == "" {
				name = DefaultSubjectHeader
			}
			if tt.value != "" {
				r.Header.Set(name, tt.value)
			}
			h.ServeHTTP(httptest.NewRecorder(), r)

			if got != tt.want {
				t.Fatalf("SubjectFromContext = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSubject_IgnoredFromUntrustedPeer(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		hops   int
	}{
		{"public peer with trusted hops", "203.0.113.9:4000", 1},
		{"private peer without trusted hops", "10.0.0.2:5555", 0},
		{"loopback peer", "127.0.0.1:5555", 1},
		{"unparseable peer", "bogus", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got, seen string
			h := subjectBehindProxy("", tt.hops, &got, &seen)

			r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			r.RemoteAddr = tt.remote
			r.Header.Set(DefaultSubjectHeader, "forged")
			h.ServeHTTP(httptest.NewRecorder(), r)

			if got != "" {
				t.Fatalf("SubjectFromContext = %q, want anonymous", got)
			}
			if seen != "" {
				t.Fatalf("untrusted subject header should be removed, handler saw %q", seen)
			}
		})
	}
}

func TestSubject_WithoutClientIPIsAnonymous(t *testing.T) {
	var got string
	h := Subject("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = SubjectFromContext(r.Context())
	}))
	r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	r.RemoteAddr = "10.0.0.2:5555"
	r.Header.Set(DefaultSubjectHeader, "u1")
	h.ServeHTTP(httptest.NewRecorder(), r)

	if got != "" {
		t.Fatalf("SubjectFromContext = %q, want anonymous", got)
	}
}

func TestWithSubject_EmptyLeavesContext(t *testing.T) {
	ctx := context.Background()
	if WithSubject(ctx, "") != ctx {
		t.Fatal("empty subject should return the same context")
	}
	if SubjectFromContext(WithSubject(ctx, "u1")) != "u1" {
		t.Fatal("round trip failed")
	}
}
