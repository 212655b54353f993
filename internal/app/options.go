package service

import (
	"time"

	"github.com/okian/tripwire/internal/adapters/mq/worker"
	"github.com/okian/tripwire/internal/adapters/repository"
	"github.com/okian/tripwire/internal/domain/assignment"
	"github.com/okian/tripwire/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStore injects an already opened store. The service closes it on Stop.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithStoreDriver selects the store opened on Start when none is injected.
func WithStoreDriver(driver, path string) Option {
	return func(s *Service) {
		if driver != "" {
			s.storeDriver = driver
			s.storePath = path
		}
	}
}

// WithTriggersFile loads triggers from path on Start and, with watch, reloads
// them when the file changes.
func WithTriggersFile(path string, watch bool) Option {
	return func(s *Service) {
		s.triggersPath = path
		s.watchTriggers = watch
	}
}

// WithFetcher sets where content comes from.
func WithFetcher(f ContentFetcher) Option {
	return func(s *Service) {
		if f != nil {
			s.fetcher = f
		}
	}
}

// WithSender sets where confirmations are delivered.
func WithSender(sender worker.Sender) Option {
	return func(s *Service) {
		if sender != nil {
			s.sender = sender
		}
	}
}

// WithAssignmentSource sets where server-side assignments are read on Identify.
func WithAssignmentSource(src AssignmentSource) Option {
	return func(s *Service) {
		if src != nil {
			s.assignmentSource = src
		}
	}
}

// WithQueueSize sets the capacity of the confirmation queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithWorkerCount sets the number of confirmation workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithConfirmRetry sets the confirmation attempt limit and base backoff.
func WithConfirmRetry(attempts int, backoff time.Duration) Option {
	return func(s *Service) {
		if attempts > 0 {
			s.confirmAttempts = attempts
		}
		if backoff > 0 {
			s.confirmBackoff = backoff
		}
	}
}

// WithCacheTTL sets how long fetched content is retained. Zero, the default,
// keeps it until Reset or a trigger refresh.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl >= 0 {
			s.cacheTTL = ttl
		}
	}
}

// WithDefaultLocale sets the locale used when a request carries none.
func WithDefaultLocale(locale string) Option {
	return func(s *Service) {
		if locale != "" {
			s.defaultLocale = locale
		}
	}
}

// WithSeedStrategy selects how the bucketing seed is derived.
func WithSeedStrategy(strategy assignment.SeedStrategy) Option {
	return func(s *Service) {
		if strategy != "" {
			s.seedStrategy = strategy
		}
	}
}

// WithScriptTimeout bounds script-dialect evaluation.
func WithScriptTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.scriptTimeout = d
		}
	}
}

// WithPreloadConcurrency caps parallel fetches in Preload.
func WithPreloadConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.preloadConcurrency = n
		}
	}
}
