// Package gatewayhttp holds the public API routes served behind the rate limiter.
package gatewayhttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-gate/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-gate/internal/log"
	"github.com/keithlinneman/linnemanlabs-gate/internal/rating"
)

// API serves the rating endpoints
type API struct {
	logger log.Logger
}

func NewAPI(logger log.Logger) *API {
	if logger == nil {
		logger = log.Nop()
	}
	return &API{logger: logger}
}

// RegisterRoutes attaches the rating endpoints to the router
func (api *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.With(httpmw.Scope("ratings.score")).Post("/ratings/score", api.HandleScore)
		r.With(httpmw.Scope("profiles.completion")).Post("/profiles/completion", api.HandleCompletion)
	})
}

// ScoreRequest carries either supplier stats, scored with the default
// weights, or explicit factors and penalties.
type ScoreRequest struct {
	Stats     *rating.SupplierStats `json:"stats,omitempty"`
	Factors   []rating.Factor       `json:"factors,omitempty"`
	Penalties []rating.Penalty      `json:"penalties,omitempty"`
}

type ScoreResponse struct {
	Score     float64          `json:"score"`
	Factors   []rating.Factor  `json:"factors"`
	Penalties []rating.Penalty `json:"penalties"`
}

// CompletionRequest carries either explicit weighted fields or the names of
// filled default profile fields.
type CompletionRequest struct {
	Fields []rating.Field `json:"fields,omitempty"`
	Filled []string       `json:"filled,omitempty"`
}

type CompletionResponse struct {
	Completion int            `json:"completion"`
	Fields     []rating.Field `json:"fields"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// HandleScore computes a supplier score
func (api *API) HandleScore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req ScoreRequest
	if !api.decode(w, r, &req) {
		return
	}

	factors, penalties := req.Factors, req.Penalties
	switch {
	case req.Stats != nil && len(factors) > 0:
		api.writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: "send either stats or factors, not both"})
		return
	case req.Stats != nil:
		if err := req.Stats.Validate(); err != nil {
			api.writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		factors, penalties = req.Stats.Factors(), req.Stats.Penalties()
	case len(factors) == 0:
		api.writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: "stats or factors required"})
		return
	}
	if penalties == nil {
		penalties = []rating.Penalty{}
	}

	resp := ScoreResponse{
		Score:     rating.Score(factors, penalties),
		Factors:   factors,
		Penalties: penalties,
	}
	log.FromContext(ctx).Debug(ctx, "computed supplier score", "score", resp.Score)
	api.writeJSON(ctx, w, http.StatusOK, resp)
}

// HandleCompletion computes a profile completion percentage
func (api *API) HandleCompletion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req CompletionRequest
	if !api.decode(w, r, &req) {
		return
	}

	fields := req.Fields
	if len(fields) == 0 {
		fields = rating.MarkFilled(req.Filled)
	}
	api.writeJSON(ctx, w, http.StatusOK, CompletionResponse{
		Completion: rating.ProfileCompletion(fields),
		Fields:     fields,
	})
}

// decode reads a single JSON object, answering 400 or 413 itself on failure
func (api *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	ctx := r.Context()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	err := dec.Decode(v)
	if err == nil && dec.More() {
		err = errors.New("request body must contain a single JSON object")
	}
	if err == nil {
		return true
	}

	var tooBig *http.MaxBytesError
	switch {
	case errors.As(err, &tooBig):
		api.writeJSON(ctx, w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
	case errors.Is(err, io.EOF):
		api.writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: "request body is empty"})
	default:
		api.writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: "invalid JSON: " + err.Error()})
	}
	return false
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Warn(ctx, "failed to encode JSON response", "error", err)
	}
}
