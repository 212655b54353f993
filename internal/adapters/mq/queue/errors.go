package queue

import "errors"

// Sentinel kinds for queue errors.
var (
	ErrFull   = errors.New("confirmation queue is full")
	ErrClosed = errors.New("confirmation queue is closed")
)
