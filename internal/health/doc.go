// Package health provides composable probes and the HTTP handlers behind
// /-/healthy and /-/ready.
//
// Probes combine with [All] (AND), [Any] (OR) and [Fixed] (static).
// [Timeout] bounds a slow dependency check such as a Redis ping.
//
// [ShutdownGate] fails readiness as soon as shutdown starts so load
// balancers stop routing new requests before the listeners drain.
package health
