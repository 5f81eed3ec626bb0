package httpmw

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func TestTraceResponseHeaders_ValidSpan(t *testing.T) {
	tid, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	sid, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid})

	h := TraceResponseHeaders("", "")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	r = r.WithContext(trace.ContextWithSpanContext(r.Context(), sc))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	if rec.Header().Get("X-Trace-Id") != tid.String() {
		t.Errorf("X-Trace-Id = %q", rec.Header().Get("X-Trace-Id"))
	}
	if rec.Header().Get("X-Span-Id") != sid.String() {
		t.Errorf("X-Span-Id = %q", rec.Header().Get("X-Span-Id"))
	}
}

func TestTraceResponseHeaders_NoSpan(t *testing.T) {
	h := TraceResponseHeaders("T", "S")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if rec.Header().Get("T") != "" || rec.Header().Get("S") != "" {
		t.Fatal("no headers expected without a span")
	}
}
