package gatewayhttp

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-gate/internal/httpmw"
)

func TestProxy_ForwardsUnmatched(t *testing.T) {
	var gotPath, gotReqID, gotXFF string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotReqID = r.Header.Get("X-Request-Id")
		gotXFF = r.Header.Get("X-Forwarded-For")
		w.WriteHeader(http.StatusTeapot)
	}))
	defer upstream.Close()

	p, err := NewProxy(ProxyOptions{Upstream: upstream.URL})
	if err != nil {
		t.Fatal(err)
	}
	r := chi.NewRouter()
	NewAPI(nil).RegisterRoutes(r)
	p.RegisterRoutes(r)

	h := httpmw.RequestID("")(r)
	req := httptest.NewRequest(http.MethodGet, "/projects/42", http.NoBody)
	req.Header.Set("X-Request-Id", "rid-9")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d", rec.Code)
	}
	if gotPath != "/projects/42" || gotReqID != "rid-9" {
		t.Fatalf("upstream saw path=%q request id=%q", gotPath, gotReqID)
	}
	if gotXFF == "" {
		t.Fatal("X-Forwarded-For should be set")
	}
}

type failingTransport struct{}

func (failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("connection refused")
}

func TestProxy_UpstreamError(t *testing.T) {
	errs := 0
	p, err := NewProxy(ProxyOptions{
		Upstream:  "http://upstream.internal",
		Transport: failingTransport{},
		OnError:   func() { errs++ },
	})
	if err != nil {
		t.Fatal(err)
	}
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", http.NoBody))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rec.Code)
	}
	if errs != 1 {
		t.Fatalf("OnError called %d times", errs)
	}
}

func TestNewProxy_InvalidUpstream(t *testing.T) {
	for _, raw := range []string{"", "upstream:8080", "ftp://host", "http://"} {
		if _, err := NewProxy(ProxyOptions{Upstream: raw}); err == nil {
			t.Errorf("NewProxy(%q) should fail", raw)
		}
	}
}
