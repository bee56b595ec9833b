package results

import (
	"errors"
	"fmt"
)

// Sentinel kinds for result state errors.
var (
	ErrDataIntegrityViolation = errors.New("data integrity violation")

	ErrSemiFinalistsFull = errors.New("semi-finalist pool is full")
	ErrTopFiveFull       = errors.New("top five is full")
	ErrNotSemiFinalist   = errors.New("candidate is not a semi-finalist")
	ErrNotTopFive        = errors.New("candidate is not in the top five")
	ErrInvalidPosition   = errors.New("invalid final position")
	ErrEmptyCandidate    = errors.New("candidate id is empty")
	ErrUnknownTransition = errors.New("unknown transition")
)

// TransitionError reports a rejected transition and the precondition it failed.
type TransitionError struct {
	Transition  Transition
	CandidateID string
	Position    int
	Err         error
}

func (e *TransitionError) Error() string {
	switch {
	case e.CandidateID != "" && e.Position >= 0:
		return fmt.Sprintf("%s %s at position %d: %v", e.Transition, e.CandidateID, e.Position, e.Err)
	case e.CandidateID != "":
		return fmt.Sprintf("%s %s: %v", e.Transition, e.CandidateID, e.Err)
	case e.Position >= 0:
		return fmt.Sprintf("%s position %d: %v", e.Transition, e.Position, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Transition, e.Err)
	}
}

func (e *TransitionError) Unwrap() error { return e.Err }

// IsPrecondition reports whether err is a rejected transition rather than
// a storage or integrity failure.
func IsPrecondition(err error) bool {
	var te *TransitionError
	return errors.As(err, &te)
}

func integrityf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDataIntegrityViolation, fmt.Sprintf(format, args...))
}
