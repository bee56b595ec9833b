package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	service "github.com/okian/tiara/internal/app"
	"github.com/okian/tiara/internal/domain/results"
	"github.com/okian/tiara/pkg/logger"
)

// AdminDependencies defines the interface for official result mutations.
type AdminDependencies interface {
	ApplyTransition(ctx context.Context, cmd results.Command) (service.TransitionOutcome, error)
	ClearResults(ctx context.Context) (service.ResultView, error)
	RecomputeAll(ctx context.Context) (service.RecomputeReport, error)
}

type assignRequest struct {
	CandidateID string `json:"candidate_id" validate:"required,max=64"`
}

// AdminHandler handles the admin routes that drive the result state machine.
type AdminHandler struct {
	deps   AdminDependencies
	logger logger.Logger
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(deps AdminDependencies, log logger.Logger) *AdminHandler {
	return &AdminHandler{deps: deps, logger: log}
}

// HandleTransition returns a handler applying t to the {id} path value.
func (h *AdminHandler) HandleTransition(t results.Transition) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.apply(w, r, results.Command{Transition: t, CandidateID: r.PathValue("id")})
	}
}

// HandleAssign handles PUT /admin/results/positions/{position} requests.
// Positions are zero based; 0 is the winner.
func (h *AdminHandler) HandleAssign(w http.ResponseWriter, r *http.Request) {
	pos, err := positionParam(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var req assignRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	h.apply(w, r, results.Command{Transition: results.AssignPosition, CandidateID: req.CandidateID, Position: pos})
}

// HandleClearPosition handles DELETE /admin/results/positions/{position} requests.
func (h *AdminHandler) HandleClearPosition(w http.ResponseWriter, r *http.Request) {
	pos, err := positionParam(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.apply(w, r, results.Command{Transition: results.ClearPosition, Position: pos})
}

// HandleClear handles DELETE /admin/results requests.
func (h *AdminHandler) HandleClear(w http.ResponseWriter, r *http.Request) {
	view, err := h.deps.ClearResults(r.Context())
	if err != nil {
		h.logger.Error(r.Context(), "clear results failed",
			logger.String("request_id", RequestIDFromContext(r.Context())),
			logger.Error(err),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// HandleRecompute handles POST /admin/recompute requests.
func (h *AdminHandler) HandleRecompute(w http.ResponseWriter, r *http.Request) {
	report, err := h.deps.RecomputeAll(r.Context())
	if err != nil {
		h.logger.Error(r.Context(), "recompute failed",
			logger.String("request_id", RequestIDFromContext(r.Context())),
			logger.Error(err),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *AdminHandler) apply(w http.ResponseWriter, r *http.Request, cmd results.Command) {
	out, err := h.deps.ApplyTransition(r.Context(), cmd)
	if err != nil {
		if !results.IsPrecondition(err) {
			h.logger.Warn(r.Context(), "transition failed",
				logger.String("transition", string(cmd.Transition)),
				logger.String("candidate_id", cmd.CandidateID),
				logger.String("request_id", RequestIDFromContext(r.Context())),
				logger.Error(err),
			)
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func positionParam(r *http.Request) (int, error) {
	raw := r.PathValue("position")
	pos, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: position %q is not a number", ErrBadRequest, raw)
	}
	return pos, nil
}
