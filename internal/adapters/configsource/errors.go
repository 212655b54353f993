package configsource

import "errors"

// Sentinel errors for trigger documents.
var (
	ErrDocument = errors.New("invalid trigger document")
	ErrRead     = errors.New("read trigger document")
)
