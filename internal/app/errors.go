package service

import "errors"

// Sentinel errors returned by the service.
var (
	ErrNotStarted = errors.New("service not started")
	ErrNoFetcher  = errors.New("no content backend configured")
	ErrEmptyEvent = errors.New("event name is empty")
	ErrEmptyUser  = errors.New("user id is empty")
)
