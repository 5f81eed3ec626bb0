// Package httpmw holds the HTTP middleware of the public gateway listener.
//
// httpserver.NewHandler composes them outermost first: security headers,
// panic recovery, request ID, client origin, subject, the rate limiter,
// otelhttp, trace response headers, metrics, request logger and the chi
// router (compression, route annotation, access log, max body).
//
// Client origin and subject are resolved once and stored in the request
// context so the limiter, logs and spans all see the same values.
// Request headers other than the configured subject header are never logged.
package httpmw
