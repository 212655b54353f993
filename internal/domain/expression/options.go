package expression

import (
	"time"

	"github.com/okian/tripwire/internal/domain/model"
	"github.com/okian/tripwire/pkg/logger"
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for absorbed evaluation errors.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithScriptTimeout bounds a single script evaluation.
func WithScriptTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.scriptTimeout = d
		}
	}
}

// WithDefaultDialect sets the dialect used for rules that do not name one.
func WithDefaultDialect(d model.Dialect) Option {
	return func(e *Engine) {
		if d != "" {
			e.defaultDialect = d
		}
	}
}
