package expression

import "errors"

// Sentinel errors for expression handling.
var (
	ErrCompile        = errors.New("expression failed to compile")
	ErrEvaluate       = errors.New("expression failed to evaluate")
	ErrNotBool        = errors.New("expression did not produce a boolean")
	ErrTimeout        = errors.New("expression evaluation timed out")
	ErrUnknownDialect = errors.New("unknown expression dialect")
)
