package metrics

import "time"

// Hooks below match the limiter's callback signatures so cmd/server can pass
// them straight to the ratelimit options.

// ObserveDecision counts one limiter decision by outcome
func (m *ServerMetrics) ObserveDecision(allowed, bypassed bool) {
	outcome := OutcomeAllowed
	switch {
	case bypassed:
		outcome = OutcomeBypassed
	case !allowed:
		outcome = OutcomeRejected
	}
	m.decisions.WithLabelValues(outcome).Inc()
}

// OnFirstDenied counts key windows that reached the limit
func (m *ServerMetrics) OnFirstDenied(string) { m.firstDenials.Inc() }

func (m *ServerMetrics) OnSweep(evicted, remaining int) {
	m.sweeps.Inc()
	m.evicted.Add(float64(evicted))
	m.trackedKeys.Set(float64(remaining))
}

func (m *ServerMetrics) OnStoreError(error) { m.storeErrors.Inc() }

func (m *ServerMetrics) SetPolicyLoaded(t time.Time) {
	m.policyLoadsTs.Set(float64(t.Unix()))
}
