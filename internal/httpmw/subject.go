package httpmw

import (
	"context"
	"net/http"
	"strings"
	"unicode"
)

type subjectKey struct{}

// DefaultSubjectHeader carries the authenticated user id set by the upstream
// authenticator. The gateway itself never authenticates.
const DefaultSubjectHeader = "X-Authenticated-User"

const maxSubjectLen = 128

// Subject reads the authenticated subject from header and stores it in the
// request context. Empty, oversized or non-printable values are dropped and
// the request is treated as anonymous.
//
// The header is only honoured when ClientIPWithOptions marked the peer as a
// trusted proxy. From any other peer it is removed, so a direct caller cannot
// pick a fresh subject per request. Subject must run inside ClientIPWithOptions.
func Subject(header string) func(http.Handler) http.Handler {
	if header == "" {
		header = DefaultSubjectHeader
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if !TrustedPeerFromContext(ctx) {
				r.Header.Del(header)
				next.ServeHTTP(w, r)
				return
			}
			ctx = WithSubject(ctx, cleanSubject(r.Header.Get(header)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func cleanSubject(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || len(v) > maxSubjectLen {
		return ""
	}
	for _, c := range v {
		if !unicode.IsPrint(c) || unicode.IsSpace(c) {
			return ""
		}
	}
	return v
}

// WithSubject stores the subject, "" leaves ctx unchanged.
func WithSubject(ctx context.Context, subject string) context.Context {
	if subject == "" {
		return ctx
	}
	return context.WithValue(ctx, subjectKey{}, subject)
}

// SubjectFromContext returns the authenticated subject, "" for anonymous callers.
func SubjectFromContext(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey{}).(string)
	return s
}
