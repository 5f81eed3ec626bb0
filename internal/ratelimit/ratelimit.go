package ratelimit

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

const (
	DefaultLimit            = 100
	DefaultWindow           = 60 * time.Second
	DefaultSweepProbability = 0.01
	DefaultFallbackWindow   = 30 * time.Second
)

// Limiter admits or rejects requests per key in fixed windows.
// The zero value is not usable, construct with New.
type Limiter struct {
	limit            int
	window           time.Duration
	bypass           func(Request) bool
	sweepProbability float64
	sweepInterval    time.Duration
	message          string

	store    Store
	local    *MemoryStore
	fallback time.Duration

	now    func() time.Time
	random func() float64

	mu           sync.Mutex
	breakerUntil time.Time

	onDecision    func(Decision)
	onDenied      func(key string)
	onFirstDenied func(key string)
	onSweep       func(evicted, remaining int)
	onStoreError  func(err error)
}

type Option func(*Limiter)

// WithLimit sets the maximum admitted requests per key per window
func WithLimit(n int) Option {
	return func(l *Limiter) { l.limit = n }
}

// WithWindow sets the window length
func WithWindow(d time.Duration) Option {
	return func(l *Limiter) { l.window = d }
}

// WithBypass sets a predicate that admits a request without touching any record
func WithBypass(fn func(Request) bool) Option {
	return func(l *Limiter) { l.bypass = fn }
}

// WithSweepProbability sets the chance (0..1) that an in-window admit sweeps expired records inline
func WithSweepProbability(p float64) Option {
	return func(l *Limiter) { l.sweepProbability = p }
}

// WithSweepInterval additionally sweeps on a ticker, 0 disables the ticker
func WithSweepInterval(d time.Duration) Option {
	return func(l *Limiter) { l.sweepInterval = d }
}

// WithStore replaces the default MemoryStore
func WithStore(s Store) Option {
	return func(l *Limiter) { l.store = s }
}

// WithFallbackWindow sets how long the limiter answers from local memory after a store error
func WithFallbackWindow(d time.Duration) Option {
	return func(l *Limiter) { l.fallback = d }
}

// WithMessage sets the human-readable message in rejection payloads
func WithMessage(msg string) Option {
	return func(l *Limiter) { l.message = msg }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithRandom overrides the [0,1) source used for the inline sweep
func WithRandom(fn func() float64) Option {
	return func(l *Limiter) { l.random = fn }
}

// WithOnDecision is called once for every decision, including bypasses
func WithOnDecision(fn func(Decision)) Option {
	return func(l *Limiter) { l.onDecision = fn }
}

// WithOnDenied is called for every rejected request, used for prometheus counters
func WithOnDenied(fn func(key string)) Option {
	return func(l *Limiter) { l.onDenied = fn }
}

// WithOnFirstDenied is called once per key per window on the first rejection, used for logging
func WithOnFirstDenied(fn func(key string)) Option {
	return func(l *Limiter) { l.onFirstDenied = fn }
}

// WithOnSweep is called after every sweep with the evicted and remaining record counts
func WithOnSweep(fn func(evicted, remaining int)) Option {
	return func(l *Limiter) { l.onSweep = fn }
}

// WithOnStoreError is called when the configured store fails and the limiter falls back to memory
func WithOnStoreError(fn func(err error)) Option {
	return func(l *Limiter) { l.onStoreError = fn }
}

// New builds a Limiter. If a sweep interval is set, a cleanup goroutine runs until ctx is done.
// Non-positive limits and windows fall back to the defaults.
func New(ctx context.Context, opts ...Option) *Limiter {
	l := &Limiter{
		limit:            DefaultLimit,
		window:           DefaultWindow,
		sweepProbability: DefaultSweepProbability,
		message:          DefaultMessage,
		fallback:         DefaultFallbackWindow,
		local:            NewMemoryStore(),
		now:              time.Now,
		random:           rand.Float64,
	}
	for _, o := range opts {
		o(l)
	}
	if l.limit <= 0 {
		l.limit = DefaultLimit
	}
	if l.window <= 0 {
		l.window = DefaultWindow
	}
	if l.message == "" {
		l.message = DefaultMessage
	}
	if l.store == nil {
		l.store = l.local
	}
	if l.sweepInterval > 0 {
		go l.cleanup(ctx)
	}
	return l
}

func (l *Limiter) Limit() int            { return l.limit }
func (l *Limiter) Window() time.Duration { return l.window }

// Admit decides whether req may proceed and records it when it does
func (l *Limiter) Admit(ctx context.Context, req Request) Decision {
	d := l.admit(ctx, req)
	if l.onDecision != nil {
		l.onDecision(d)
	}
	return d
}

func (l *Limiter) admit(ctx context.Context, req Request) Decision {
	if l.bypass != nil && l.bypass(req) {
		return Decision{Allowed: true, Bypassed: true, Key: req.Key(), Limit: l.limit}
	}

	key := req.Key()
	now := l.now()
	out := l.take(ctx, key, now)

	d := Decision{
		Allowed: out.Allowed,
		Key:     key,
		Count:   out.Record.Count,
		Limit:   l.limit,
		ResetAt: out.Record.WindowEnd,
	}

	if !out.Allowed {
		d.RetryAfter = out.Record.WindowEnd.Sub(now)
		if d.RetryAfter < 0 {
			d.RetryAfter = 0
		}
		d.Rejection = newRejection(l.message)
		// hooks run after the store lock is released
		if out.FirstDenial && l.onFirstDenied != nil {
			l.onFirstDenied(key)
		}
		if l.onDenied != nil {
			l.onDenied(key)
		}
		return d
	}

	if !out.Fresh && l.sweepProbability > 0 && l.random() < l.sweepProbability {
		l.sweepAt(now)
	}
	return d
}

// take asks the configured store, or the local store while the breaker is open
func (l *Limiter) take(ctx context.Context, key string, now time.Time) Outcome {
	if l.store != Store(l.local) && !l.breakerOpen(now) {
		out, err := l.store.Take(ctx, key, l.limit, l.window, now)
		if err == nil {
			return out
		}
		l.tripBreaker(now)
		if l.onStoreError != nil {
			l.onStoreError(err)
		}
	}
	// MemoryStore.Take never fails
	out, _ := l.local.Take(ctx, key, l.limit, l.window, now)
	return out
}

func (l *Limiter) breakerOpen(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.breakerUntil.IsZero() {
		return false
	}
	if now.Before(l.breakerUntil) {
		return true
	}
	l.breakerUntil = time.Time{}
	return false
}

func (l *Limiter) tripBreaker(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fallback > 0 {
		l.breakerUntil = now.Add(l.fallback)
	}
}

// Sweep evicts expired records from the local store and from the configured store
// when it needs explicit eviction. Returns the number of records evicted.
func (l *Limiter) Sweep() int {
	return l.sweepAt(l.now())
}

func (l *Limiter) sweepAt(now time.Time) int {
	evicted, remaining := l.local.Sweep(now)
	if s, ok := l.store.(Sweeper); ok && l.store != Store(l.local) {
		e, r := s.Sweep(now)
		evicted += e
		remaining += r
	}
	if l.onSweep != nil {
		l.onSweep(evicted, remaining)
	}
	return evicted
}

// cleanup sweeps on a ticker until ctx is cancelled
func (l *Limiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

// Stats is a point-in-time view used by the ops endpoint
type Stats struct {
	TrackedKeys int   `json:"tracked_keys"`
	Limit       int   `json:"limit"`
	WindowMs    int64 `json:"window_ms"`
	Fallback    bool  `json:"fallback_active"`
}

func (l *Limiter) Stats() Stats {
	tracked := l.local.Len()
	if s, ok := l.store.(Sizer); ok && l.store != Store(l.local) {
		tracked += s.Len()
	}
	return Stats{
		TrackedKeys: tracked,
		Limit:       l.limit,
		WindowMs:    l.window.Milliseconds(),
		Fallback:    l.breakerOpen(l.now()),
	}
}
