// Package service wires the trigger resolution components together and
// implements the dependencies required by the HTTP API and the CLI.
package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/okian/tripwire/internal/adapters/configsource"
	eventqueue "github.com/okian/tripwire/internal/adapters/mq/queue"
	workerpool "github.com/okian/tripwire/internal/adapters/mq/worker"
	"github.com/okian/tripwire/internal/adapters/repository"
	"github.com/okian/tripwire/internal/domain/assignment"
	"github.com/okian/tripwire/internal/domain/dedupe"
	"github.com/okian/tripwire/internal/domain/expression"
	"github.com/okian/tripwire/internal/domain/model"
	"github.com/okian/tripwire/internal/domain/occurrence"
	"github.com/okian/tripwire/internal/domain/trigger"
	"github.com/okian/tripwire/pkg/logger"
	"github.com/okian/tripwire/pkg/metrics"
)

// ContentFetcher retrieves content from the backend.
type ContentFetcher interface {
	Fetch(ctx context.Context, req model.ContentRequest) (model.Content, error)
}

// AssignmentSource returns the assignments the backend holds for a user.
type AssignmentSource interface {
	Assignments(ctx context.Context, userID string) ([]model.Assignment, error)
}

// Service owns the resolution pipeline: rule evaluation, occurrence
// tracking, assignment, confirmation delivery and content deduplication.
type Service struct {
	mu sync.RWMutex

	// Core components
	store    repository.Store
	engine   *expression.Engine
	tracker  *occurrence.Tracker
	assigner *assignment.Resolver
	registry *trigger.Registry
	triggers purgingRegistry
	resolver *trigger.Resolver
	source   *configsource.Source
	cache    *dedupe.Cache[model.Content]
	queue    *eventqueue.InMemoryQueue
	pool     *workerpool.Pool

	// Collaborators
	fetcher          ContentFetcher
	sender           workerpool.Sender
	assignmentSource AssignmentSource

	// Configuration
	storeDriver        string
	storePath          string
	triggersPath       string
	watchTriggers      bool
	queueSize          int
	workerCount        int
	confirmAttempts    int
	confirmBackoff     time.Duration
	cacheTTL           time.Duration
	defaultLocale      string
	seedStrategy       assignment.SeedStrategy
	scriptTimeout      time.Duration
	preloadConcurrency int

	// State
	started bool
	cancel  context.CancelFunc

	logger logger.Logger
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		storeDriver:        repository.DriverMemory,
		queueSize:          1024,
		workerCount:        2,
		confirmAttempts:    5,
		confirmBackoff:     500 * time.Millisecond,
		defaultLocale:      "en_US",
		seedStrategy:       assignment.SeedRandom,
		scriptTimeout:      50 * time.Millisecond,
		preloadConcurrency: runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start initializes the components and starts the confirmation workers. The
// workers and the trigger watch live until Stop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	s.logger.Info(ctx, "starting tripwire service...")

	if s.store == nil {
		store, err := repository.Open(s.storeDriver, s.storePath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		s.store = store
		s.logger.Info(ctx, "store opened", logger.String("driver", s.storeDriver))
	}

	engine, err := expression.New(
		expression.WithLogger(s.logger.Named("expression")),
		expression.WithScriptTimeout(s.scriptTimeout),
	)
	if err != nil {
		return fmt.Errorf("expression engine: %w", err)
	}
	s.engine = engine

	s.tracker = occurrence.New(s.store, occurrence.WithLogger(s.logger.Named("occurrence")))

	if s.sender == nil {
		s.sender = discardSender{log: s.logger}
	}
	s.queue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))
	s.pool = workerpool.NewPool(s.workerCount, s.queue, s.sender,
		workerpool.WithLogger(s.logger.Named("confirm")),
		workerpool.WithMaxAttempts(s.confirmAttempts),
		workerpool.WithBackoff(s.confirmBackoff),
	)

	s.assigner = assignment.New(s.store,
		assignment.WithConfirmer(s.queue),
		assignment.WithSeedStrategy(s.seedStrategy),
		assignment.WithLogger(s.logger.Named("assignment")),
	)

	s.cache = dedupe.New[model.Content](
		dedupe.WithTTL(s.cacheTTL),
		dedupe.WithLogger(s.logger.Named("content")),
	)

	s.registry = trigger.NewRegistry()
	s.triggers = purgingRegistry{Registry: s.registry, cache: s.cache}
	s.resolver = trigger.NewResolver(s.registry, s.engine, s.tracker, s.assigner,
		trigger.WithLogger(s.logger.Named("trigger")))

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if s.triggersPath != "" {
		s.source = configsource.New(s.triggersPath, s.triggers, s.engine,
			configsource.WithLogger(s.logger.Named("triggers")))
		if _, err := s.source.Reload(ctx); err != nil {
			cancel()
			err = multierr.Append(fmt.Errorf("load triggers: %w", err), s.store.Close())
			s.store = nil
			return err
		}
		if s.watchTriggers {
			if err := s.source.Watch(runCtx); err != nil {
				s.logger.Warn(ctx, "trigger watch unavailable", logger.Error(err))
			}
		}
	}

	s.cache.Start()
	s.pool.Start(runCtx)
	s.cancel = cancel
	s.started = true

	s.logger.Info(ctx, "tripwire service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("triggers", s.registry.Len()),
		logger.String("seedStrategy", string(s.seedStrategy)),
	)
	return nil
}

// Stop drains the confirmation queue, stops background loops and closes the
// store. Errors from each step are combined.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping tripwire service...")

	var err error
	err = multierr.Append(err, s.pool.Shutdown(ctx))
	s.cancel()
	s.cache.Stop()
	err = multierr.Append(err, s.store.Close())
	s.store = nil

	s.started = false
	s.logger.Info(ctx, "tripwire service stopped")
	return err
}

// Resolve evaluates the trigger for event against attrs.
func (s *Service) Resolve(ctx context.Context, event string, attrs model.Attributes, dryRun bool) model.Outcome {
	if event == "" {
		return model.ErrorOutcome(ErrEmptyEvent)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return model.ErrorOutcome(ErrNotStarted)
	}
	return s.resolver.Resolve(ctx, event, attrs, trigger.Options{DryRun: dryRun})
}

// SetTriggers validates triggers and installs them, replacing the current
// set and dropping retained content. It returns the new registry version.
func (s *Service) SetTriggers(ctx context.Context, triggers model.Triggers) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return 0, ErrNotStarted
	}
	if err := trigger.Validate(ctx, s.engine, triggers); err != nil {
		metrics.RecordTriggerReload("error")
		return 0, err
	}
	v := s.triggers.Replace(triggers)
	metrics.RecordTriggerReload("success")
	metrics.UpdateTriggerCount(len(triggers))
	return v, nil
}

// ReloadTriggers re-reads the trigger file, if one is configured. A
// successful reload drops retained content like SetTriggers.
func (s *Service) ReloadTriggers(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return 0, ErrNotStarted
	}
	if s.source == nil {
		return s.registry.Version(), nil
	}
	return s.source.Reload(ctx)
}

// purgingRegistry installs trigger sets and drops retained content, which may
// belong to variants the new set no longer references. Every refresh path
// goes through it: SetTriggers, ReloadTriggers and the file watch.
type purgingRegistry struct {
	*trigger.Registry
	cache *dedupe.Cache[model.Content]
}

func (p purgingRegistry) Replace(triggers model.Triggers) int64 {
	v := p.Registry.Replace(triggers)
	p.cache.Purge()
	return v
}

// GetContent returns the content for req. Concurrent requests for the same
// content share one fetch. Requests with substitutions are never served from
// or stored in the retained cache.
func (s *Service) GetContent(ctx context.Context, req model.ContentRequest, allowCache bool) (model.Content, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return model.Content{}, ErrNotStarted
	}
	if s.fetcher == nil {
		return model.Content{}, ErrNoFetcher
	}
	if req.Locale == "" {
		req.Locale = s.defaultLocale
	}
	if len(req.Substitutions) > 0 {
		allowCache = false
	}
	return s.cache.Get(ctx, contentKey(req), allowCache, func(ctx context.Context) (model.Content, error) {
		return s.fetcher.Fetch(ctx, req)
	})
}

// contentKey is the dedup key for req. Substituted requests get a suffix
// derived from the substitutions so they never share a fetch with the plain
// content.
func contentKey(req model.ContentRequest) string {
	key := req.CacheKey()
	if len(req.Substitutions) == 0 {
		return key
	}
	h := xxhash.New()
	for _, k := range slices.Sorted(maps.Keys(req.Substitutions)) {
		_, _ = h.WriteString(k)
		_, _ = h.WriteString("\x00")
		_, _ = h.WriteString(req.Substitutions[k])
		_, _ = h.WriteString("\x00")
	}
	return fmt.Sprintf("%s#%016x", key, h.Sum64())
}

// Preload fetches and retains the content of every treatment variant in the
// current triggers. Content already retained is counted without a fetch. At
// most preloadConcurrency fetches run at once. Failures are combined and
// returned; they do not stop other fetches.
func (s *Service) Preload(ctx context.Context) (int, error) {
	s.mu.RLock()
	if !s.started {
		s.mu.RUnlock()
		return 0, ErrNotStarted
	}
	ids := treatmentContent(s.registry.Triggers())
	cache, locale := s.cache, s.defaultLocale
	s.mu.RUnlock()

	var (
		mu     sync.Mutex
		errs   error
		loaded int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.preloadConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			req := model.ContentRequest{ContentID: id, Locale: locale}
			if _, ok := cache.Peek(contentKey(req)); ok {
				metrics.RecordPreload("cached")
				mu.Lock()
				loaded++
				mu.Unlock()
				return nil
			}
			_, err := s.GetContent(gctx, req, true)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				metrics.RecordPreload("error")
				errs = multierr.Append(errs, fmt.Errorf("preload %s: %w", id, err))
				return nil
			}
			metrics.RecordPreload("ok")
			loaded++
			return nil
		})
	}
	_ = g.Wait()
	s.logger.Info(ctx, "content preloaded", logger.Int("loaded", loaded), logger.Int("total", len(ids)))
	return loaded, errs
}

func treatmentContent(triggers model.Triggers) []string {
	seen := make(map[string]struct{})
	for _, t := range triggers {
		for _, rule := range t.Rules {
			for _, v := range rule.Experiment.Variants {
				if v.Type == model.VariantTreatment && v.ContentID != "" {
					seen[v.ContentID] = struct{}{}
				}
			}
		}
	}
	return slices.Sorted(maps.Keys(seen))
}

// Identify records the user id. Under the user_id seed strategy this changes
// the bucketing seed. Assignments the backend already holds for the user are
// applied when an assignment source is configured; a failure to read them is
// logged and does not fail Identify.
func (s *Service) Identify(ctx context.Context, userID string) (model.IdentifyResult, error) {
	if userID == "" {
		return model.IdentifyResult{}, ErrEmptyUser
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return model.IdentifyResult{}, ErrNotStarted
	}

	changed, err := s.assigner.Seeds().Identify(ctx, userID)
	if err != nil {
		return model.IdentifyResult{}, err
	}
	res := model.IdentifyResult{SeedChanged: changed}
	if s.assignmentSource == nil {
		return res, nil
	}
	server, err := s.assignmentSource.Assignments(ctx, userID)
	if err != nil {
		metrics.RecordErrorByComponent("identify", "server_assignments")
		s.logger.Warn(ctx, "server assignments unavailable", logger.String("userID", userID), logger.Error(err))
		return res, nil
	}
	res.Applied, err = s.assigner.ApplyServerAssignments(ctx, server, s.registry.Experiments())
	return res, err
}

// ApplyServerAssignments stores backend-made assignments for experiments in
// the current triggers and returns how many were applied.
func (s *Service) ApplyServerAssignments(ctx context.Context, assignments []model.Assignment) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return 0, ErrNotStarted
	}
	return s.assigner.ApplyServerAssignments(ctx, assignments, s.registry.Experiments())
}

// Reset forgets the user: confirmed assignments, occurrence history, the
// seed and every retained content entry.
func (s *Service) Reset(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	err := errors.Join(s.assigner.Reset(ctx), s.tracker.Reset(ctx))
	s.cache.Purge()
	s.logger.Info(ctx, "user state reset")
	return err
}

// Assignments returns the confirmed assignments keyed by experiment id.
func (s *Service) Assignments(ctx context.Context) (map[string]model.Variant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.assigner.Confirmed(ctx)
}

// User reports what is remembered about the current user: the identified
// user id, the seed strategy, confirmed assignments and the occurrence count
// of every key the current triggers constrain, each within its window.
func (s *Service) User(ctx context.Context) (model.UserState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return model.UserState{}, ErrNotStarted
	}

	seeds := s.assigner.Seeds()
	userID, err := seeds.UserID(ctx)
	if err != nil {
		return model.UserState{}, err
	}
	confirmed, err := s.assigner.Confirmed(ctx)
	if err != nil {
		return model.UserState{}, err
	}
	counts := make(map[string]int)
	for _, c := range occurrenceConstraints(s.registry.Triggers()) {
		n, err := s.tracker.Count(ctx, c)
		if err != nil {
			return model.UserState{}, fmt.Errorf("count %s: %w", c.Key, err)
		}
		counts[c.Key] = n
	}
	return model.UserState{
		UserID:       userID,
		SeedStrategy: string(seeds.Strategy()),
		Assignments:  confirmed,
		Occurrences:  counts,
	}, nil
}

// occurrenceConstraints returns one constraint per occurrence key. Validate
// guarantees rules sharing a key share its interval.
func occurrenceConstraints(triggers model.Triggers) []model.OccurrenceConstraint {
	byKey := make(map[string]model.OccurrenceConstraint)
	for _, t := range triggers {
		for _, rule := range t.Rules {
			if rule.Occurrence != nil {
				byKey[rule.Occurrence.Key] = *rule.Occurrence
			}
		}
	}
	out := make([]model.OccurrenceConstraint, 0, len(byKey))
	for _, k := range slices.Sorted(maps.Keys(byKey)) {
		out = append(out, byKey[k])
	}
	return out
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":      s.started,
		"workerCount":  s.workerCount,
		"queueSize":    s.queueSize,
		"seedStrategy": string(s.seedStrategy),
		"storeDriver":  s.storeDriver,
	}

	if s.started {
		queueLen := s.queue.Len(ctx)
		stats["queueLength"] = queueLen
		stats["triggers"] = s.registry.Len()
		stats["triggersVersion"] = s.registry.Version()
		stats["triggersLoadedAt"] = s.registry.LoadedAt()
		stats["cachedContent"] = s.cache.Len()
		stats["contentFetches"] = s.cache.Fetches()

		metrics.UpdateConfirmQueueSize(queueLen)
		metrics.UpdateConfirmWorkers(s.pool.Size())
		metrics.UpdateTriggerCount(s.registry.Len())
		metrics.UpdateCacheEntries(s.cache.Len())
	}

	return stats
}

// discardSender stands in for the backend when none is configured.
type discardSender struct {
	log logger.Logger
}

func (d discardSender) Confirm(ctx context.Context, cs []model.Confirmation) error {
	for _, c := range cs {
		d.log.Debug(ctx, "confirmation discarded, no backend configured",
			logger.String("experiment", c.ExperimentID),
			logger.String("variant", c.VariantID))
	}
	return nil
}
