package ratelimit

import (
	"context"
	"time"
)

// Record is the per-key window state
type Record struct {
	Count     int
	WindowEnd time.Time
}

// Outcome is what a Store reports for one Take
type Outcome struct {
	Allowed bool
	Record  Record
	// Fresh is true when Take opened a new window for the key
	Fresh bool
	// FirstDenial is true for the first rejection of the key in its current window
	FirstDenial bool
}

// Store holds window records. Take must perform the whole
// create/reset, check and increment step atomically for a key.
// Rejected requests must not change the record.
type Store interface {
	Take(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Outcome, error)
}

// Sweeper is implemented by stores that need explicit eviction of expired records
type Sweeper interface {
	Sweep(now time.Time) (evicted, remaining int)
}

// Sizer is implemented by stores that can report how many keys they hold
type Sizer interface {
	Len() int
}
