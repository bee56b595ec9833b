package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/okian/tiara/internal/adapters/repository"
	service "github.com/okian/tiara/internal/app"
	"github.com/okian/tiara/internal/domain/registry"
	"github.com/okian/tiara/internal/domain/results"
	"github.com/okian/tiara/internal/domain/scoring"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest    = errors.New("bad request")
	ErrUnauthorized  = errors.New("missing or invalid admin key")
	ErrAdminDisabled = errors.New("admin routes are disabled")
)

// statusFor maps a domain or store error to an HTTP status and an error
// code. Order matters: an unknown candidate inside a prediction also
// wraps the shape error.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, registry.ErrUnknownCandidate):
		return http.StatusBadRequest, "unknown_candidate"
	case errors.Is(err, scoring.ErrInvalidPredictionShape):
		return http.StatusBadRequest, "invalid_prediction"
	case errors.Is(err, service.ErrInvalidUser),
		errors.Is(err, results.ErrInvalidPosition),
		errors.Is(err, results.ErrEmptyCandidate),
		errors.Is(err, results.ErrUnknownTransition):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, results.ErrDataIntegrityViolation):
		return http.StatusInternalServerError, "data_integrity_violation"
	case results.IsPrecondition(err):
		return http.StatusConflict, "precondition_failed"
	case errors.Is(err, repository.ErrVersionConflict):
		return http.StatusConflict, "version_conflict"
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, repository.ErrTransient),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "try_again"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	writeError(w, status, code, err)
}
