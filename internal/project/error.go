package project

import "errors"

// Error definitions for the project package.
var (
	ErrImageNotFound = errors.New("image not found in project")
	ErrManifest      = errors.New("malformed project manifest")
)
