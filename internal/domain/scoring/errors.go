package scoring

import (
	"errors"

	"github.com/okian/tiara/internal/domain/results"
)

// Sentinel kinds for scoring errors.
var (
	// ErrInvalidPredictionShape means the prediction is not exactly five
	// distinct, non-empty candidate ids.
	ErrInvalidPredictionShape = errors.New("invalid prediction shape")

	// ErrDataIntegrityViolation is the results package sentinel so callers
	// can match either name.
	ErrDataIntegrityViolation = results.ErrDataIntegrityViolation
)
