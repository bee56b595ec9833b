package service

import "errors"

// Sentinel kinds for service errors.
var (
	ErrNotStarted     = errors.New("service not started")
	ErrMissingCatalog = errors.New("candidate catalog not configured")
	ErrInvalidUser    = errors.New("user id is required")
)
