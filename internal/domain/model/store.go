package model

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a Store when a key has no value.
var ErrNotFound = errors.New("key not found")

// Store is the persistence capability injected into the domain. Values are
// opaque bytes; each component owns the encoding of its keys.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Keys lists keys starting with prefix, in ascending order.
	Keys(ctx context.Context, prefix string) ([]string, error)
}
