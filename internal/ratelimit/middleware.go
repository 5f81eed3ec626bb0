package ratelimit

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"github.com/keithlinneman/linnemanlabs-gate/internal/httpmw"
)

// RequestFromHTTP builds a limiter Request from values resolved by the httpmw
// ClientIP and Subject middleware earlier in the chain
func RequestFromHTTP(r *http.Request) Request {
	ctx := r.Context()
	return Request{
		Origin:  httpmw.ClientIPFromContext(ctx),
		Subject: httpmw.SubjectFromContext(ctx),
		Path:    r.URL.Path,
	}
}

// Middleware rejects requests over the per-key quota with 429 and a JSON payload.
// Rejected requests never reach next.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := l.Admit(r.Context(), RequestFromHTTP(r))
		if d.Allowed {
			next.ServeHTTP(w, r)
			return
		}
		WriteRejection(w, d)
	})
}

// WriteRejection writes the 429 response for a rejected decision
func WriteRejection(w http.ResponseWriter, d Decision) {
	rej := d.Rejection
	if rej == nil {
		rej = newRejection(DefaultMessage)
	}
	body, err := json.Marshal(rej)
	if err != nil {
		body = []byte(`{"error":"Too Many Requests","statusCode":429}`)
	}

	// whole seconds, rounded up so clients never retry inside the window
	retry := int64(math.Ceil(d.RetryAfter.Seconds()))
	if retry < 1 {
		retry = 1
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Retry-After", strconv.FormatInt(retry, 10))
	w.WriteHeader(rej.StatusCode)
	_, _ = w.Write(body)
}
