package model

import "errors"

// Error definitions for the model package.
var (
	ErrNotFound        = errors.New("model not found in catalog")
	ErrMetadataMissing = errors.New("model metadata file not found")
	ErrInvalidMetadata = errors.New("invalid model metadata")
	ErrAnchors         = errors.New("invalid anchor file")
)
