package backend

import "errors"

// Sentinel kinds for backend errors.
var (
	ErrNotFound  = errors.New("content not found")
	ErrDecode    = errors.New("malformed backend response")
	ErrNetwork   = errors.New("backend request failed")
	ErrNoBaseURL = errors.New("backend base url is not configured")
)
