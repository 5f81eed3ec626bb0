package ratelimit

import (
	"errors"
	"net/http"
	"time"
)

// ErrQuotaExceeded is returned by Decision.Err for rejected requests
var ErrQuotaExceeded = errors.New("rate limit quota exceeded")

// DefaultMessage is the human-readable rejection message
const DefaultMessage = "Too many requests, please try again later."

// Rejection is the client-visible payload for a rejected request
type Rejection struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
}

func newRejection(msg string) *Rejection {
	return &Rejection{
		Error:      http.StatusText(http.StatusTooManyRequests),
		Message:    msg,
		StatusCode: http.StatusTooManyRequests,
	}
}

// Decision is the outcome of one Admit call
type Decision struct {
	Allowed  bool
	Bypassed bool

	Key   string
	Count int
	Limit int

	// ResetAt is the end of the current window, zero for bypassed requests
	ResetAt    time.Time
	RetryAfter time.Duration

	// Rejection is set only when Allowed is false
	Rejection *Rejection
}

// Err returns ErrQuotaExceeded for rejected decisions and nil otherwise
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return ErrQuotaExceeded
}

// Remaining is how many more requests the key may make in the current window
func (d Decision) Remaining() int {
	if d.Bypassed {
		return d.Limit
	}
	if n := d.Limit - d.Count; n > 0 {
		return n
	}
	return 0
}
