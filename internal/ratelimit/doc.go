// Package ratelimit is fixed-window admission control keyed by caller origin
// and authenticated subject.
//
// Each key gets a counter and a window end. The first request for a key (or
// the first after its window ended) opens a window of the configured length
// with a count of one; later requests in the same window increment the count
// until the limit is reached, after which requests are rejected without
// touching the record. Expired records are evicted by a sweep that runs
// inline with a small probability on admitted requests, and optionally on a
// ticker as well.
//
// The default MemoryStore enforces the limit exactly: the read-check-increment
// sequence runs under one mutex. RedisStore shares windows between instances
// using an atomic lua script and lets Redis expire them. When a store returns
// an error the limiter answers from a local MemoryStore until the breaker
// window passes, so a Redis outage degrades to per-instance limiting instead
// of failing requests.
//
// A rejection is an expected outcome, not an error: it is reported through
// Decision and hooks, never logged at error level.
package ratelimit
