package configsource

import "github.com/okian/tripwire/pkg/logger"

// Option configures a Source.
type Option func(*Source)

// WithLogger sets the source's logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Source) {
		if l != nil {
			s.log = l
		}
	}
}
