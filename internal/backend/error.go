package backend

import "errors"

// Error definitions for the backend package.
var (
	ErrNoEngine          = errors.New("no installed backend can consume any available model format")
	ErrPinnedUnavailable = errors.New("pinned backend is not installed or has no consumable model format")
)
