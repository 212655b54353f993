package worker

import "errors"

// ErrConfirmFailed marks a confirmation abandoned after exhausting retries.
var ErrConfirmFailed = errors.New("assignment confirmation failed")
