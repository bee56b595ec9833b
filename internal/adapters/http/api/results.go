package api

import (
	"context"
	"errors"
	"net/http"

	service "github.com/okian/tiara/internal/app"
	"github.com/okian/tiara/internal/domain/registry"
	"github.com/okian/tiara/internal/domain/results"
)

// ResultDependencies defines the interface for reading the official result.
type ResultDependencies interface {
	CurrentResult(ctx context.Context) (service.ResultView, error)
	CandidateState(ctx context.Context, candidateID string) (results.CandidateState, error)
}

// ResultsHandler serves the public view of the official result.
type ResultsHandler struct {
	deps ResultDependencies
}

// NewResultsHandler creates a new results handler.
func NewResultsHandler(deps ResultDependencies) *ResultsHandler {
	return &ResultsHandler{deps: deps}
}

// HandleCurrent handles GET /results requests.
func (h *ResultsHandler) HandleCurrent(w http.ResponseWriter, r *http.Request) {
	view, err := h.deps.CurrentResult(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// HandleCandidate handles GET /results/candidates/{candidate_id} requests.
func (h *ResultsHandler) HandleCandidate(w http.ResponseWriter, r *http.Request) {
	state, err := h.deps.CandidateState(r.Context(), r.PathValue("candidate_id"))
	if err != nil {
		if errors.Is(err, registry.ErrUnknownCandidate) {
			writeError(w, http.StatusNotFound, "not_found", err)
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}
