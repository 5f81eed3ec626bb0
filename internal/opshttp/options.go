package opshttp

import (
	"net/http"

	"github.com/keithlinneman/linnemanlabs-gate/internal/health"
	"github.com/keithlinneman/linnemanlabs-gate/internal/ratelimit"
)

// LimiterStats is satisfied by *ratelimit.Limiter
type LimiterStats interface {
	Stats() ratelimit.Stats
}

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe

	// Limiter backs GET /debug/ratelimit when set
	Limiter LimiterStats

	// AllowPublic disables the private-network guard, for tests behind NAT
	AllowPublic bool

	// Optional callback for recovered panics, e.g. a prometheus counter
	OnPanic func()
}
