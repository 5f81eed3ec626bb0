package gatewayhttp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-gate/internal/httpmw"
)

func newRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(httpmw.MaxBody(1024))
	NewAPI(nil).RegisterRoutes(r)
	return r
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
	return rec
}

func TestHandleScore_Stats(t *testing.T) {
	rec := post(t, newRouter(), "/api/v1/ratings/score",
		`{"stats":{"average_rating":5,"on_time_rate":1,"response_rate":1,"completed_projects":50,"profile_completion":100,"lost_disputes":1}}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}
	var resp ScoreResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Score != 90 {
		t.Fatalf("score = %v, want 90", resp.Score)
	}
	if len(resp.Factors) != 5 || len(resp.Penalties) != 1 {
		t.Fatalf("factors=%d penalties=%d", len(resp.Factors), len(resp.Penalties))
	}
}

func TestHandleScore_Factors(t *testing.T) {
	rec := post(t, newRouter(), "/api/v1/ratings/score",
		`{"factors":[{"name":"a","weight":0.5,"value":1,"max":2}],"penalties":[{"reason":"x","points":5}]}`)

	var resp ScoreResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if rec.Code != http.StatusOK || resp.Score != 20 {
		t.Fatalf("status=%d score=%v", rec.Code, resp.Score)
	}
}

func TestHandleScore_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
	}{
		{"empty", ``, http.StatusBadRequest},
		{"not json", `nope`, http.StatusBadRequest},
		{"unknown field", `{"stat":{}}`, http.StatusBadRequest},
		{"nothing to score", `{}`, http.StatusBadRequest},
		{"both inputs", `{"stats":{},"factors":[{"weight":1,"value":1,"max":1}]}`, http.StatusBadRequest},
		{"invalid stats", `{"stats":{"average_rating":9}}`, http.StatusBadRequest},
		{"trailing data", `{"stats":{}} {}`, http.StatusBadRequest},
		{"too large", `{"factors":[` + strings.Repeat(`{"weight":1,"value":1,"max":1},`, 100) + `{}]}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, newRouter(), "/api/v1/ratings/score", tt.body)
			if rec.Code != tt.code {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.code, rec.Body)
			}
			var e errorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil || e.Error == "" {
				t.Fatalf("error body = %s", rec.Body)
			}
		})
	}
}

func TestHandleCompletion(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"filled names", `{"filled":["company_name","description","portfolio"]}`, 45},
		{"explicit fields", `{"fields":[{"name":"a","weight":1,"filled":true},{"name":"b","weight":3}]}`, 25},
		{"nothing filled", `{}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, newRouter(), "/api/v1/profiles/completion", tt.body)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			var resp CompletionResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if resp.Completion != tt.want {
				t.Fatalf("completion = %d, want %d", resp.Completion, tt.want)
			}
		})
	}
}

func TestRoutes_MethodNotAllowed(t *testing.T) {
	rec := httptest.NewRecorder()
	newRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ratings/score", http.NoBody))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rec.Code)
	}
}
