package trigger

import "errors"

// Sentinel errors for trigger resolution.
var (
	ErrEventNotFound = errors.New("no trigger for event")
	ErrInvalidRule   = errors.New("invalid audience rule")
)
