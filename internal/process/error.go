package process

import "errors"

// Error definitions for the process package.
var (
	ErrOutputShape = errors.New("unexpected network output shape")
	ErrMask        = errors.New("invalid tissue mask")
)
