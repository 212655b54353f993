// Package assignment buckets users into experiment variants. Assignments are
// stable: once an experiment is bucketed the choice is persisted and reused
// until an explicit reset, regardless of later weight changes.
package assignment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/tripwire/internal/domain/model"
	"github.com/okian/tripwire/pkg/logger"
	"github.com/okian/tripwire/pkg/metrics"
)

const assignmentsKey = "assignments"

// Confirmer accepts fire-and-forget confirmations.
type Confirmer interface {
	Enqueue(ctx context.Context, c model.Confirmation) error
}

// Result is the outcome of resolving one experiment.
type Result struct {
	Experiment model.Experiment
	// New is true when the variant was bucketed by this call.
	New bool
	// Covered is false when malformed weights forced a fallback variant.
	Covered bool
}

// Assign is the pure assignment step. A confirmed variant that is still part
// of the experiment wins; otherwise the seed is bucketed.
func Assign(raw model.RawExperiment, seed uint64, confirmed map[string]model.Variant) (Result, error) {
	if v, ok := confirmed[raw.ID]; ok && raw.HasVariant(v.ID) {
		return Result{
			Experiment: model.Experiment{ID: raw.ID, GroupID: raw.GroupID, Variant: v},
			Covered:    true,
		}, nil
	}
	idx, covered, err := ChooseVariant(Bucket(seed, raw.ID), raw.Variants)
	if err != nil {
		return Result{}, fmt.Errorf("experiment %q: %w", raw.ID, err)
	}
	return Result{
		Experiment: model.Experiment{ID: raw.ID, GroupID: raw.GroupID, Variant: raw.Variants[idx].Variant()},
		New:        true,
		Covered:    covered,
	}, nil
}

// Resolver persists confirmed assignments and dispatches confirmations.
type Resolver struct {
	store     model.Store
	seeds     *Seeds
	confirmer Confirmer
	log       logger.Logger
	now       func() time.Time
	newID     func() string

	strategy SeedStrategy
	random   func() uint64

	// serializes read-modify-write of the assignments blob
	mu sync.Mutex
}

// New creates a resolver over store.
func New(store model.Store, opts ...Option) *Resolver {
	r := &Resolver{
		store:    store,
		log:      logger.Nop(),
		now:      time.Now,
		newID:    uuid.NewString,
		strategy: SeedRandom,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.seeds = NewSeeds(store, r.strategy, r.random)
	return r
}

// Seeds exposes the resolver's seed source.
func (r *Resolver) Seeds() *Seeds { return r.seeds }

// Resolve returns the experiment with its variant. A newly bucketed variant
// is persisted before returning unless dryRun is set. Confirmation is left
// to the caller via Confirm.
func (r *Resolver) Resolve(ctx context.Context, raw model.RawExperiment, dryRun bool) (Result, error) {
	seed, err := r.seeds.Seed(ctx)
	if err != nil {
		return Result{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	confirmed, err := r.load(ctx)
	if err != nil {
		return Result{}, err
	}
	res, err := Assign(raw, seed, confirmed)
	if err != nil {
		return Result{}, err
	}
	if !res.Covered {
		metrics.RecordAssignmentMalformed()
		r.log.Warn(ctx, "variant weights did not cover the bucket, using fallback",
			logger.String("experiment", raw.ID),
			logger.String("variant", res.Experiment.Variant.ID))
	}
	if !res.New || dryRun {
		return res, nil
	}

	confirmed[raw.ID] = res.Experiment.Variant
	if err := r.save(ctx, confirmed); err != nil {
		return Result{}, err
	}
	metrics.RecordAssignmentCreated()
	r.log.Debug(ctx, "assignment created",
		logger.String("experiment", raw.ID),
		logger.String("variant", res.Experiment.Variant.ID))
	return res, nil
}

// Confirm enqueues a confirmation for exp. The enqueue runs detached from
// ctx's cancellation and a failure never undoes the local assignment.
func (r *Resolver) Confirm(ctx context.Context, exp model.Experiment) {
	if r.confirmer == nil {
		return
	}
	c := model.Confirmation{
		ID:           r.newID(),
		ExperimentID: exp.ID,
		VariantID:    exp.Variant.ID,
		EnqueuedAt:   r.now(),
	}
	if err := r.confirmer.Enqueue(context.WithoutCancel(ctx), c); err != nil {
		metrics.RecordConfirmationDropped()
		r.log.Warn(ctx, "assignment confirmation dropped",
			logger.String("experiment", exp.ID),
			logger.String("variant", exp.Variant.ID),
			logger.Error(err))
		return
	}
	metrics.RecordConfirmationEnqueued()
}

// ApplyServerAssignments stores assignments made by the backend. Entries whose
// experiment or variant is unknown to experiments are skipped. It returns the
// number applied.
func (r *Resolver) ApplyServerAssignments(ctx context.Context, assignments []model.Assignment, experiments map[string]model.RawExperiment) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	confirmed, err := r.load(ctx)
	if err != nil {
		return 0, err
	}
	applied := 0
	for _, a := range assignments {
		raw, ok := experiments[a.ExperimentID]
		if !ok {
			r.log.Debug(ctx, "server assignment for unknown experiment", logger.String("experiment", a.ExperimentID))
			continue
		}
		var found bool
		for _, opt := range raw.Variants {
			if opt.ID == a.VariantID {
				confirmed[a.ExperimentID] = opt.Variant()
				found = true
				break
			}
		}
		if !found {
			r.log.Debug(ctx, "server assignment for unknown variant",
				logger.String("experiment", a.ExperimentID),
				logger.String("variant", a.VariantID))
			continue
		}
		applied++
	}
	if applied == 0 {
		return 0, nil
	}
	if err := r.save(ctx, confirmed); err != nil {
		return 0, err
	}
	return applied, nil
}

// Confirmed returns a copy of the confirmed assignments.
func (r *Resolver) Confirmed(ctx context.Context) (map[string]model.Variant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	confirmed, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	return maps.Clone(confirmed), nil
}

// Reset clears confirmed assignments and the seed.
func (r *Resolver) Reset(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return errors.Join(r.store.Delete(ctx, assignmentsKey), r.seeds.Reset(ctx))
}

func (r *Resolver) load(ctx context.Context) (map[string]model.Variant, error) {
	raw, err := r.store.Get(ctx, assignmentsKey)
	if errors.Is(err, model.ErrNotFound) {
		return make(map[string]model.Variant), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load assignments: %w", err)
	}
	confirmed := make(map[string]model.Variant)
	if err := json.Unmarshal(raw, &confirmed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return confirmed, nil
}

func (r *Resolver) save(ctx context.Context, confirmed map[string]model.Variant) error {
	raw, err := json.Marshal(confirmed)
	if err != nil {
		return fmt.Errorf("encode assignments: %w", err)
	}
	if err := r.store.Set(ctx, assignmentsKey, raw); err != nil {
		return fmt.Errorf("save assignments: %w", err)
	}
	return nil
}
