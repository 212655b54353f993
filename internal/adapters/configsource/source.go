package configsource

import (
	"context"
	"fmt"
	"sync"

	"github.com/knadh/koanf/providers/file"

	"github.com/okian/tripwire/internal/domain/model"
	"github.com/okian/tripwire/internal/domain/trigger"
	"github.com/okian/tripwire/pkg/logger"
	"github.com/okian/tripwire/pkg/metrics"
)

// Registry receives validated trigger sets.
type Registry interface {
	Replace(triggers model.Triggers) int64
}

// Source reads a trigger file and installs it into a Registry. A document
// that fails to parse or validate is rejected and the previous set stays live.
type Source struct {
	path      string
	provider  *file.File
	registry  Registry
	validator trigger.Validator
	log       logger.Logger

	mu       sync.Mutex
	watching bool
}

// New creates a Source for path.
func New(path string, registry Registry, validator trigger.Validator, opts ...Option) *Source {
	s := &Source{
		path:      path,
		provider:  file.Provider(path),
		registry:  registry,
		validator: validator,
		log:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads, parses and validates the document at path without installing it.
func Load(ctx context.Context, path string, validator trigger.Validator) (model.Triggers, error) {
	return load(ctx, file.Provider(path), path, validator)
}

func load(ctx context.Context, provider *file.File, path string, validator trigger.Validator) (model.Triggers, error) {
	data, err := provider.ReadBytes()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrRead, path, err)
	}
	triggers, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if validator != nil {
		if err := trigger.Validate(ctx, validator, triggers); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDocument, err)
		}
	}
	return triggers, nil
}

// Reload reads the document and replaces the registry contents. It returns
// the new registry version.
func (s *Source) Reload(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	triggers, err := load(ctx, s.provider, s.path, s.validator)
	if err != nil {
		metrics.RecordTriggerReload("error")
		s.log.Error(ctx, "trigger document rejected", logger.String("path", s.path), logger.Error(err))
		return 0, err
	}
	version := s.registry.Replace(triggers)
	metrics.RecordTriggerReload("success")
	metrics.UpdateTriggerCount(len(triggers))
	s.log.Info(ctx, "triggers loaded",
		logger.String("path", s.path),
		logger.Int("events", len(triggers)),
		logger.Int64("version", version))
	return version, nil
}

// Watch reloads the document whenever the file changes until ctx is done.
// It returns once the watch is established.
func (s *Source) Watch(ctx context.Context) error {
	s.mu.Lock()
	if s.watching {
		s.mu.Unlock()
		return nil
	}
	s.watching = true
	s.mu.Unlock()

	err := s.provider.Watch(func(_ any, err error) {
		if err != nil {
			s.log.Warn(ctx, "trigger watch error", logger.String("path", s.path), logger.Error(err))
			return
		}
		_, _ = s.Reload(ctx)
	})
	if err != nil {
		s.mu.Lock()
		s.watching = false
		s.mu.Unlock()
		return fmt.Errorf("watch %s: %w", s.path, err)
	}

	go func() {
		<-ctx.Done()
		if err := s.provider.Unwatch(); err != nil {
			s.log.Warn(context.Background(), "trigger unwatch failed", logger.Error(err))
		}
	}()
	return nil
}
