package assignment

import "errors"

// Sentinel errors for assignment resolution.
var (
	ErrNoVariants      = errors.New("experiment has no variants")
	ErrCorrupt         = errors.New("stored assignment state is unreadable")
	ErrUnknownStrategy = errors.New("unknown seed strategy")
)
