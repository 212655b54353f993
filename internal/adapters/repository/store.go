// Package repository provides key/value persistence for confirmed
// assignments, the bucketing seed and occurrence history.
package repository

import (
	"io"

	"github.com/okian/tripwire/internal/domain/model"
)

// Store is the persistence capability plus lifecycle management.
type Store interface {
	model.Store
	io.Closer
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
