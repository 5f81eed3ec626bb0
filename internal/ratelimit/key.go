package ratelimit

import "strings"

const (
	// UnknownOrigin is used when no caller address could be resolved
	UnknownOrigin = "unknown"
	// AnonymousSubject is used for callers without an authenticated subject
	AnonymousSubject = "anonymous"
)

// Request is what the limiter needs to know about an inbound request.
// Path is only consulted by bypass predicates, it is not part of the key.
type Request struct {
	Origin  string
	Subject string
	Path    string
}

// Key returns origin + ":" + subject with the unknown/anonymous fallbacks applied.
// All callers whose origin cannot be resolved and who are not authenticated share one key.
// Origins containing ':' (IPv6) are bracketed so a subject can never shift the separator.
func (r Request) Key() string {
	origin := strings.TrimSpace(r.Origin)
	switch {
	case origin == "":
		origin = UnknownOrigin
	case strings.Contains(origin, ":"):
		origin = "[" + origin + "]"
	}
	subject := strings.TrimSpace(r.Subject)
	if subject == "" {
		subject = AnonymousSubject
	}
	return origin + ":" + subject
}
