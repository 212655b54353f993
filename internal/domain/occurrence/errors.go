package occurrence

import "errors"

// Sentinel errors for occurrence tracking.
var (
	ErrExceeded = errors.New("occurrence limit exceeded")
	ErrCorrupt  = errors.New("stored occurrence history is unreadable")
)
