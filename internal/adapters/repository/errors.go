package repository

import "errors"

// Sentinel kinds for storage errors.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidLimit      = errors.New("invalid leaderboard limit")
	ErrTransient         = errors.New("storage temporarily unavailable")
	ErrVersionConflict   = errors.New("official result was modified concurrently")
	ErrUnsupportedDriver = errors.New("unsupported storage driver")
)
