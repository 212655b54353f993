package occurrence

import (
	"k8s.io/utils/clock"

	"github.com/okian/tripwire/pkg/logger"
)

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock sets the time source for timestamps and windows.
func WithClock(c clock.PassiveClock) Option {
	return func(t *Tracker) {
		if c != nil {
			t.clock = c
		}
	}
}

// WithLogger sets the tracker's logger.
func WithLogger(l logger.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.log = l
		}
	}
}
