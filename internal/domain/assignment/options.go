package assignment

import (
	"time"

	"github.com/okian/tripwire/pkg/logger"
)

// Option configures a Resolver.
type Option func(*Resolver)

// WithConfirmer sets where confirmations are sent.
func WithConfirmer(c Confirmer) Option {
	return func(r *Resolver) {
		r.confirmer = c
	}
}

// WithLogger sets the resolver's logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.log = l
		}
	}
}

// WithSeedStrategy selects the seed strategy.
func WithSeedStrategy(s SeedStrategy) Option {
	return func(r *Resolver) {
		if s != "" {
			r.strategy = s
		}
	}
}

// WithRandomSource sets the generator for random seeds.
func WithRandomSource(random func() uint64) Option {
	return func(r *Resolver) {
		r.random = random
	}
}

// WithClock sets the time source for confirmation timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// WithIDGenerator sets how confirmation ids are generated.
func WithIDGenerator(newID func() string) Option {
	return func(r *Resolver) {
		if newID != nil {
			r.newID = newID
		}
	}
}
