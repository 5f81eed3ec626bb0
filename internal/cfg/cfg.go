// Package cfg binds the gateway configuration to flags with environment
// variable fallback and validates it at startup.
package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/keithlinneman/linnemanlabs-gate/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-gate/internal/log"
	"github.com/keithlinneman/linnemanlabs-gate/internal/policy"
	"github.com/keithlinneman/linnemanlabs-gate/internal/ratelimit"
)

// EnvPrefix is prepended to upper-cased flag names, -http-port reads LMGATE_HTTP_PORT
const EnvPrefix = "LMGATE_"

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

type App struct {
	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	HTTPPort    int
	AdminPort   int
	DrainPeriod time.Duration

	EnablePprof     bool
	EnablePyroscope bool
	EnableTracing   bool
	PyroServer      string
	PyroTenantID    string
	OTLPEndpoint    string
	TraceSample     float64

	Environment   string
	TrustedHops   int
	SubjectHeader string
	UpstreamURL   string

	RateLimitMaxRequests      int
	RateLimitWindow           time.Duration
	RateLimitSweepProbability float64
	RateLimitSweepInterval    time.Duration
	RateLimitBypass           bool

	RateLimitStore string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisPrefix    string

	PolicySource        string
	PolicySigningKeyARN string
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")

	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.DurationVar(&c.DrainPeriod, "drain-period", 60*time.Second, "time to keep serving after readiness fails on shutdown")

	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")

	fs.StringVar(&c.Environment, "environment", "production", "deployment environment, matched against the policy bypass environments")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "reverse proxies in front of the gateway whose X-Forwarded-For entries are trusted (0..8)")
	fs.StringVar(&c.SubjectHeader, "subject-header", httpmw.DefaultSubjectHeader, "request header carrying the authenticated subject, honoured only from trusted proxies")
	fs.StringVar(&c.UpstreamURL, "upstream-url", "", "forward unmatched requests to this http(s) url")

	fs.IntVar(&c.RateLimitMaxRequests, "ratelimit-max-requests", ratelimit.DefaultLimit, "requests allowed per key per window")
	fs.DurationVar(&c.RateLimitWindow, "ratelimit-window", ratelimit.DefaultWindow, "fixed window length")
	fs.Float64Var(&c.RateLimitSweepProbability, "ratelimit-sweep-probability", ratelimit.DefaultSweepProbability, "chance of an inline expired-entry sweep per counted request (0..1)")
	fs.DurationVar(&c.RateLimitSweepInterval, "ratelimit-sweep-interval", 0, "periodic sweep interval, 0 disables the ticker")
	fs.BoolVar(&c.RateLimitBypass, "ratelimit-bypass", false, "bypass rate limiting for every request")

	fs.StringVar(&c.RateLimitStore, "ratelimit-store", StoreMemory, "counter store: memory|redis")
	fs.StringVar(&c.RedisAddr, "redis-addr", "", "redis host:port for -ratelimit-store=redis")
	fs.StringVar(&c.RedisPassword, "redis-password", "", "redis password")
	fs.IntVar(&c.RedisDB, "redis-db", 0, "redis database number")
	fs.StringVar(&c.RedisPrefix, "redis-prefix", "lmgate:rl", "redis key prefix for counters")

	fs.StringVar(&c.PolicySource, "policy-source", "", "rate limit policy document: path, file://, ssm:// or s3:// uri")
	fs.StringVar(&c.PolicySigningKeyARN, "policy-signing-key-arn", "", "KMS key ARN for policy signature verification")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s", f.Name, f.Value.String(), key)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s: %v", f.Name, key, err)
			}
		}
	})
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}
	if c.DrainPeriod < 0 {
		errs = append(errs, fmt.Errorf("DRAIN_PERIOD must be >= 0 (got %s)", c.DrainPeriod))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}
	if c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64) {
		errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
	}

	// Tracing and profiling
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}
	// grpc exporter wants host:port, no scheme
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	// Request identity
	if strings.TrimSpace(c.Environment) == "" {
		errs = append(errs, fmt.Errorf("ENVIRONMENT is required"))
	}
	if c.TrustedHops < 0 || c.TrustedHops > 8 {
		errs = append(errs, fmt.Errorf("TRUSTED_HOPS must be 0..8 (got %d)", c.TrustedHops))
	}
	if c.SubjectHeader == "" || strings.ContainsAny(c.SubjectHeader, " \t:") {
		errs = append(errs, fmt.Errorf("SUBJECT_HEADER must be a header name (got %q)", c.SubjectHeader))
	}
	if c.UpstreamURL != "" {
		if u, err := url.Parse(c.UpstreamURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("UPSTREAM_URL must be an http(s) URL (got %q)", c.UpstreamURL))
		}
	}

	// Rate limit
	if c.RateLimitMaxRequests < 1 {
		errs = append(errs, fmt.Errorf("RATELIMIT_MAX_REQUESTS must be >= 1 (got %d)", c.RateLimitMaxRequests))
	}
	if c.RateLimitWindow < time.Millisecond {
		errs = append(errs, fmt.Errorf("RATELIMIT_WINDOW must be >= 1ms (got %s)", c.RateLimitWindow))
	}
	if c.RateLimitSweepProbability < 0 || c.RateLimitSweepProbability > 1 {
		errs = append(errs, fmt.Errorf("RATELIMIT_SWEEP_PROBABILITY must be 0..1 (got %v)", c.RateLimitSweepProbability))
	}
	if c.RateLimitSweepInterval < 0 {
		errs = append(errs, fmt.Errorf("RATELIMIT_SWEEP_INTERVAL must be >= 0 (got %s)", c.RateLimitSweepInterval))
	}

	switch c.RateLimitStore {
	case StoreMemory:
	case StoreRedis:
		if c.RedisAddr == "" {
			errs = append(errs, fmt.Errorf("REDIS_ADDR required when RATELIMIT_STORE=redis"))
		} else if _, _, err := net.SplitHostPort(c.RedisAddr); err != nil {
			errs = append(errs, fmt.Errorf("REDIS_ADDR must be host:port (got %q): %v", c.RedisAddr, err))
		}
		if c.RedisDB < 0 {
			errs = append(errs, fmt.Errorf("REDIS_DB must be >= 0 (got %d)", c.RedisDB))
		}
		if c.RedisPrefix == "" {
			errs = append(errs, fmt.Errorf("REDIS_PREFIX is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("RATELIMIT_STORE must be %s|%s (got %q)", StoreMemory, StoreRedis, c.RateLimitStore))
	}

	// Policy document
	if c.PolicySource != "" {
		if _, err := policy.ParseSource(c.PolicySource); err != nil {
			errs = append(errs, fmt.Errorf("invalid POLICY_SOURCE: %w", err))
		}
	} else if c.PolicySigningKeyARN != "" {
		errs = append(errs, fmt.Errorf("POLICY_SIGNING_KEY_ARN set without POLICY_SOURCE"))
	}

	return errors.Join(errs...)
}
