package wsi

import "errors"

// Error definitions for the wsi package.
var (
	ErrLevel  = errors.New("pyramid level out of range")
	ErrDecode = errors.New("failed to decode slide")
)
