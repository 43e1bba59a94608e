package pipeline

import "errors"

// Error taxonomy for a single model run. Callers branch with errors.Is.
var (
	// ErrConfiguration covers missing or malformed metadata and unsupported
	// problem/resolution combinations.
	ErrConfiguration = errors.New("configuration error")
	// ErrResolution means no installed backend can load any shipped format.
	ErrResolution = errors.New("no compatible backend and model format")
	// ErrFormatMismatch means the post-processing path does not support the resolved backend.
	ErrFormatMismatch = errors.New("post-processing does not support resolved backend")
	// ErrIO covers missing side files and artifacts that fail to load.
	ErrIO = errors.New("i/o error")
	// ErrArithmeticDegenerate means a pyramid level computation fell outside the slide.
	ErrArithmeticDegenerate = errors.New("degenerate pyramid level")

	ErrAlreadyRegistered = errors.New("pipeline already registered on image")
	ErrHandleUsed        = errors.New("run handle already used")
	ErrAbandoned         = errors.New("run handle closed before completion")
)
