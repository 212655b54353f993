package worker

import (
	"time"

	"github.com/okian/tripwire/pkg/logger"
)

type config struct {
	name        string
	log         logger.Logger
	maxAttempts int
	backoff     time.Duration
}

func newConfig(opts []Option) config {
	cfg := config{
		name:        "confirm-worker",
		log:         logger.Nop(),
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Option applies a configuration option to workers.
type Option func(*config)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(c *config) {
		if name != "" {
			c.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMaxAttempts bounds delivery attempts per confirmation.
func WithMaxAttempts(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBackoff sets the delay before the first retry; it doubles per attempt.
func WithBackoff(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.backoff = d
		}
	}
}
