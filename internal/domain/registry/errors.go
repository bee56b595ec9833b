package registry

import "errors"

// Sentinel kinds for registry errors.
var (
	ErrUnknownCandidate   = errors.New("unknown candidate")
	ErrDuplicateCandidate = errors.New("duplicate candidate")
	ErrInvalidCandidate   = errors.New("invalid candidate")
	ErrLoadRegistry       = errors.New("load candidate registry failed")
)
