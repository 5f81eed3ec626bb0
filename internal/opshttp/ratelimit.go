package opshttp

import (
	"encoding/json"
	"net/http"
)

// RateLimitHandler reports tracked keys and the active limit as JSON
func RateLimitHandler(l LimiterStats) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(l.Stats())
	}
}
