package results

import "errors"

// Error definitions for the results package.
var (
	ErrUnsupportedPayload = errors.New("payload kind has no on-disk container")
	ErrNoPayload          = errors.New("result set has no payload file")
	ErrAttributesMissing  = errors.New("result set has no attributes file")
	ErrMalformedAttribute = errors.New("malformed attribute line")
	ErrCodec              = errors.New("payload codec error")
)
