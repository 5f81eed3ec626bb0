package httpmw

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMaxBody(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		limit   int64
		wantErr bool
	}{
		{"under limit", "abc", 10, false},
		{"at limit", "abcdefghij", 10, false},
		{"over limit", "abcdefghijk", 10, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var readErr error
			h := MaxBody(tt.limit)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, readErr = io.ReadAll(r.Body)
			}))
			h.ServeHTTP(httptest.NewRecorder(),
				httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body)))

			var mbe *http.MaxBytesError
			if tt.wantErr != errors.As(readErr, &mbe) {
				t.Fatalf("read err = %v, wantErr %v", readErr, tt.wantErr)
			}
		})
	}
}

func TestMaxBody_NoBody(t *testing.T) {
	h := MaxBody(1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != http.NoBody {
			t.Fatal("NoBody should be left alone")
		}
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))
}
