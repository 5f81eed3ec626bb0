package policy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/keithlinneman/linnemanlabs-gate/internal/ratelimit"
	"github.com/keithlinneman/linnemanlabs-gate/internal/xerrors"
)

// Policy is the limiter configuration after flags and the optional document
// have been merged.
type Policy struct {
	MaxRequests      int           `yaml:"max_requests"`
	Window           time.Duration `yaml:"window"`
	WindowMs         int64         `yaml:"window_ms,omitempty"`
	SweepProbability float64       `yaml:"sweep_probability"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	Message          string        `yaml:"message"`
	Bypass           BypassRules   `yaml:"bypass"`
}

// BypassRules lists requests the limiter admits without counting.
type BypassRules struct {
	Environments []string `yaml:"environments"`
	Origins      []string `yaml:"origins"`
	Subjects     []string `yaml:"subjects"`
	Paths        []string `yaml:"paths"`
}

// ProbePaths are the public health routes, never counted against a quota.
var ProbePaths = []string{"/-/healthy", "/-/ready"}

// Default mirrors the limiter defaults. Local and dev environments bypass,
// and so do the probe routes.
func Default() Policy {
	return Policy{
		MaxRequests:      ratelimit.DefaultLimit,
		Window:           ratelimit.DefaultWindow,
		SweepProbability: ratelimit.DefaultSweepProbability,
		Message:          ratelimit.DefaultMessage,
		Bypass: BypassRules{
			Environments: []string{"local", "dev"},
			Paths:        slices.Clone(ProbePaths),
		},
	}
}

// Parse decodes a YAML document over base, so keys absent from the document
// keep their base values. Unknown keys are rejected. The result is validated.
func Parse(data []byte, base Policy) (Policy, error) {
	p := base
	p.WindowMs = 0

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return Policy{}, xerrors.Wrap(err, "decode policy yaml")
	}
	if p.WindowMs > 0 {
		p.Window = time.Duration(p.WindowMs) * time.Millisecond
		p.WindowMs = 0
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Validate reports every invalid field at once.
func (p Policy) Validate() error {
	var errs []error
	if p.MaxRequests < 1 {
		errs = append(errs, fmt.Errorf("max_requests must be >= 1 (got %d)", p.MaxRequests))
	}
	if p.Window <= 0 {
		errs = append(errs, fmt.Errorf("window must be > 0 (got %s)", p.Window))
	}
	if p.SweepProbability < 0 || p.SweepProbability > 1 {
		errs = append(errs, fmt.Errorf("sweep_probability must be in [0,1] (got %v)", p.SweepProbability))
	}
	if p.SweepInterval < 0 {
		errs = append(errs, fmt.Errorf("sweep_interval must be >= 0 (got %s)", p.SweepInterval))
	}
	for _, path := range p.Bypass.Paths {
		if !strings.HasPrefix(path, "/") {
			errs = append(errs, fmt.Errorf("bypass path %q must start with /", path))
		}
	}
	return errors.Join(errs...)
}

// BypassFunc builds the limiter bypass predicate for the running environment.
// force bypasses everything, for load tests and local development.
// Environment membership is decided once, the other rules per request.
func (p Policy) BypassFunc(env string, force bool) func(ratelimit.Request) bool {
	if force || containsFold(p.Bypass.Environments, env) {
		return func(ratelimit.Request) bool { return true }
	}

	origins := toSet(p.Bypass.Origins)
	subjects := toSet(p.Bypass.Subjects)
	paths := toSet(p.Bypass.Paths)
	if len(origins) == 0 && len(subjects) == 0 && len(paths) == 0 {
		return nil
	}

	return func(r ratelimit.Request) bool {
		if _, ok := paths[r.Path]; ok {
			return true
		}
		if _, ok := origins[strings.TrimSpace(r.Origin)]; ok && r.Origin != "" {
			return true
		}
		if _, ok := subjects[strings.TrimSpace(r.Subject)]; ok && r.Subject != "" {
			return true
		}
		return false
	}
}

// LimiterOptions converts the policy into limiter options. bypass is the
// predicate built by BypassFunc and may be nil.
func (p Policy) LimiterOptions(bypass func(ratelimit.Request) bool) []ratelimit.Option {
	return []ratelimit.Option{
		ratelimit.WithLimit(p.MaxRequests),
		ratelimit.WithWindow(p.Window),
		ratelimit.WithSweepProbability(p.SweepProbability),
		ratelimit.WithSweepInterval(p.SweepInterval),
		ratelimit.WithMessage(p.Message),
		ratelimit.WithBypass(bypass),
	}
}

func containsFold(list []string, v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return false
	}
	return slices.ContainsFunc(list, func(s string) bool {
		return strings.EqualFold(strings.TrimSpace(s), v)
	})
}

func toSet(list []string) map[string]struct{} {
	m := make(map[string]struct{}, len(list))
	for _, s := range list {
		if s = strings.TrimSpace(s); s != "" {
			m[s] = struct{}{}
		}
	}
	return m
}
