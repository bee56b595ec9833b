package api

import (
	"context"
	"net/http"

	service "github.com/okian/tiara/internal/app"
	"github.com/okian/tiara/internal/domain/model"
)

const headerIdempotencyKey = "Idempotency-Key"

// PredictionDependencies defines the interface for prediction operations.
type PredictionDependencies interface {
	SubmitPrediction(ctx context.Context, userID string, ranked []string, idempotencyKey string) (service.Submission, error)
	Prediction(ctx context.Context, userID string) (service.PredictionView, error)
	PredictionHistory(ctx context.Context, userID string) ([]model.Prediction, error)
	Preview(ctx context.Context, ranked []string) (service.Preview, error)
}

// predictionRequest mirrors the OpenAPI schema for POST /predictions.
// Shape rules beyond presence are enforced by the scoring package so
// that they produce invalid_prediction rather than bad_request.
type predictionRequest struct {
	UserID string   `json:"user_id" validate:"required,max=128"`
	Ranked []string `json:"ranked" validate:"required"`
}

type previewRequest struct {
	Ranked []string `json:"ranked" validate:"required"`
}

// PredictionsHandler handles prediction requests.
type PredictionsHandler struct {
	deps PredictionDependencies
}

// NewPredictionsHandler creates a new predictions handler.
func NewPredictionsHandler(deps PredictionDependencies) *PredictionsHandler {
	return &PredictionsHandler{deps: deps}
}

// HandleSubmit handles POST /predictions requests. A replayed
// Idempotency-Key answers 200 with the stored outcome instead of 201.
func (h *PredictionsHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var req predictionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	sub, err := h.deps.SubmitPrediction(r.Context(), req.UserID, req.Ranked, r.Header.Get(headerIdempotencyKey))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	status := http.StatusCreated
	if sub.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, sub)
}

// HandleGet handles GET /predictions/{user_id} requests.
func (h *PredictionsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	view, err := h.deps.Prediction(r.Context(), r.PathValue("user_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// HandleHistory handles GET /predictions/{user_id}/history requests.
func (h *PredictionsHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.deps.PredictionHistory(r.Context(), r.PathValue("user_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// HandlePreview handles POST /predictions/preview requests.
func (h *PredictionsHandler) HandlePreview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	p, err := h.deps.Preview(r.Context(), req.Ranked)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
