package dedupe

import (
	"time"

	"github.com/okian/tripwire/pkg/logger"
)

type options struct {
	ttl      time.Duration
	capacity uint64
	log      logger.Logger
}

// Option applies a configuration option to a Cache.
type Option func(*options)

// WithTTL expires retained values after ttl. Zero keeps them until purged.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithCapacity bounds the number of retained values; the least recently
// retained are evicted first.
func WithCapacity(n uint64) Option {
	return func(o *options) {
		o.capacity = n
	}
}

// WithLogger sets the logger used for failed fetches.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}
