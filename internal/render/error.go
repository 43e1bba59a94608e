package render

import "errors"

// Error definitions for the render package.
var (
	ErrUnknownKind      = errors.New("unknown renderer kind")
	ErrUnknownAttribute = errors.New("unknown renderer attribute")
	ErrAttributeValue   = errors.New("invalid attribute value")
	ErrInput            = errors.New("renderer cannot display input")
)
