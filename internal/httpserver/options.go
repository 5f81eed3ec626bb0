package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-gate/internal/health"
	"github.com/keithlinneman/linnemanlabs-gate/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-gate/internal/log"
)

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func()
	MetricsMW    func(http.Handler) http.Handler
	Health       health.Probe
	Readiness    health.Probe

	ClientIPOpts httpmw.ClientIPOptions

	// SubjectHeader names the header carrying the authenticated subject,
	// empty uses httpmw.DefaultSubjectHeader
	SubjectHeader string

	// RateLimitMW runs after origin and subject are resolved
	RateLimitMW func(http.Handler) http.Handler

	// Routes are registered in order on the chi router; the proxy, when
	// present, goes last so it can claim NotFound
	Routes []func(chi.Router)

	// MaxBodyBytes caps request bodies, 0 uses DefaultMaxBodyBytes
	MaxBodyBytes int64
}
