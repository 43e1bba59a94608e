package network

import "errors"

// Error definitions for the network package.
var (
	ErrNodeRequired       = errors.New("backend requires named input and output nodes")
	ErrRuntimeUnavailable = errors.New("no runtime can execute this backend and format")
	ErrInputShape         = errors.New("input tensor does not match network input")
	ErrClosed             = errors.New("network is closed")
)
