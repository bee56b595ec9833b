package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/okian/tiara/internal/domain/model"
	"github.com/okian/tiara/internal/domain/registry"
)

// CandidateDependencies defines the interface for candidate lookups.
type CandidateDependencies interface {
	Candidates(query string, limit int) []model.Candidate
	Candidate(id string) (model.Candidate, error)
}

// CandidatesHandler serves the candidate registry.
type CandidatesHandler struct {
	deps     CandidateDependencies
	maxLimit int
}

// NewCandidatesHandler creates a new candidates handler.
func NewCandidatesHandler(deps CandidateDependencies, maxLimit int) *CandidatesHandler {
	return &CandidatesHandler{deps: deps, maxLimit: maxLimit}
}

// HandleList handles GET /candidates?search=&limit= requests.
func (h *CandidatesHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
			return
		}
		limit = min(n, h.maxLimit)
	}
	list := h.deps.Candidates(r.URL.Query().Get("search"), limit)
	if list == nil {
		list = []model.Candidate{}
	}
	writeJSON(w, http.StatusOK, list)
}

// HandleGet handles GET /candidates/{id} requests.
func (h *CandidatesHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	c, err := h.deps.Candidate(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, registry.ErrUnknownCandidate) {
			writeError(w, http.StatusNotFound, "not_found", err)
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
