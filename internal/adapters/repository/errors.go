package repository

import (
	"errors"

	"github.com/okian/tripwire/internal/domain/model"
)

// Sentinel kinds for store errors.
var (
	ErrNotFound      = model.ErrNotFound
	ErrEmptyKey      = errors.New("empty store key")
	ErrClosed        = errors.New("store is closed")
	ErrUnknownDriver = errors.New("unknown store driver")
)
