package ratelimit

import (
	"context"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/keithlinneman/linnemanlabs-gate/internal/log"
)

// DenialLogger returns a first-denial hook that warns through L, capped at
// perSecond log lines per second with the given burst. Lines dropped by the cap
// are counted and reported on the next line that gets through.
func DenialLogger(ctx context.Context, L log.Logger, perSecond float64, burst int) func(key string) {
	if L == nil {
		L = log.Nop()
	}
	lim := rate.NewLimiter(rate.Limit(perSecond), burst)
	var suppressed atomic.Int64
	return func(key string) {
		if !lim.Allow() {
			suppressed.Add(1)
			return
		}
		L.Warn(ctx, "rate limit triggered",
			"key", key,
			"suppressed", suppressed.Swap(0),
		)
	}
}
