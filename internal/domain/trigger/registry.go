package trigger

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync/atomic"
	"time"

	"github.com/okian/tripwire/internal/domain/model"
)

// Registry holds the current trigger configuration. Each refresh replaces the
// whole set atomically; readers never see a partial update.
type Registry struct {
	current atomic.Pointer[snapshot]
	version atomic.Int64
}

type snapshot struct {
	triggers    model.Triggers
	experiments map[string]model.RawExperiment
	version     int64
	loadedAt    time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.current.Store(&snapshot{
		triggers:    model.Triggers{},
		experiments: map[string]model.RawExperiment{},
	})
	return r
}

// Replace swaps in a new trigger set and returns its version. The map must
// not be modified afterwards.
func (r *Registry) Replace(triggers model.Triggers) int64 {
	if triggers == nil {
		triggers = model.Triggers{}
	}
	exps := make(map[string]model.RawExperiment)
	for _, t := range triggers {
		for _, rule := range t.Rules {
			exps[rule.Experiment.ID] = rule.Experiment
		}
	}
	v := r.version.Add(1)
	r.current.Store(&snapshot{
		triggers:    triggers,
		experiments: exps,
		version:     v,
		loadedAt:    time.Now(),
	})
	return v
}

// Lookup returns the trigger bound to event.
func (r *Registry) Lookup(event string) (model.Trigger, bool) {
	t, ok := r.current.Load().triggers[event]
	return t, ok
}

// Triggers returns the current set. It must be treated as read-only.
func (r *Registry) Triggers() model.Triggers {
	return r.current.Load().triggers
}

// Experiments returns every experiment referenced by the current set, keyed
// by id. It must be treated as read-only.
func (r *Registry) Experiments() map[string]model.RawExperiment {
	return r.current.Load().experiments
}

// Len returns the number of triggers.
func (r *Registry) Len() int {
	return len(r.current.Load().triggers)
}

// Version returns the number of replacements so far.
func (r *Registry) Version() int64 {
	return r.current.Load().version
}

// LoadedAt returns when the current set was installed.
func (r *Registry) LoadedAt() time.Time {
	return r.current.Load().loadedAt
}

// Validator compiles an expression without evaluating it.
type Validator interface {
	Validate(expr model.Expression) error
}

// Validate checks every rule of triggers and returns all problems joined.
// An occurrence key shared by several rules must use one interval: history
// outside a key's window is discarded when it is recorded.
func Validate(_ context.Context, v Validator, triggers model.Triggers) error {
	var errs []error
	intervals := make(map[string]model.Interval)
	for _, event := range slices.Sorted(maps.Keys(triggers)) {
		t := triggers[event]
		if t.EventName != "" && t.EventName != event {
			errs = append(errs, fmt.Errorf("%w: trigger %q is keyed as %q", ErrInvalidRule, t.EventName, event))
		}
		for i, rule := range t.Rules {
			where := fmt.Sprintf("trigger %q rule %d", event, i)
			if err := v.Validate(rule.Expression); err != nil {
				errs = append(errs, fmt.Errorf("%w: %s: %w", ErrInvalidRule, where, err))
			}
			if rule.Experiment.ID == "" {
				errs = append(errs, fmt.Errorf("%w: %s: experiment id is empty", ErrInvalidRule, where))
			}
			if len(rule.Experiment.Variants) == 0 {
				errs = append(errs, fmt.Errorf("%w: %s: experiment %q has no variants", ErrInvalidRule, where, rule.Experiment.ID))
			}
			total := 0
			for _, opt := range rule.Experiment.Variants {
				total += opt.WeightPercent
			}
			if len(rule.Experiment.Variants) > 1 && total != 100 {
				errs = append(errs, fmt.Errorf("%w: %s: experiment %q weights sum to %d", ErrInvalidRule, where, rule.Experiment.ID, total))
			}
			if o := rule.Occurrence; o != nil {
				if o.Key == "" {
					errs = append(errs, fmt.Errorf("%w: %s: occurrence key is empty", ErrInvalidRule, where))
				}
				if o.MaxCount < 0 {
					errs = append(errs, fmt.Errorf("%w: %s: occurrence max count is negative", ErrInvalidRule, where))
				}
				if prev, ok := intervals[o.Key]; ok && !sameInterval(prev, o.Interval) {
					errs = append(errs, fmt.Errorf("%w: %s: occurrence key %q is counted over different intervals", ErrInvalidRule, where, o.Key))
				} else if o.Key != "" {
					intervals[o.Key] = o.Interval
				}
			}
		}
	}
	return errors.Join(errs...)
}

func sameInterval(a, b model.Interval) bool {
	if a.IsInfinite() || b.IsInfinite() {
		return a.IsInfinite() && b.IsInfinite()
	}
	return a.Minutes == b.Minutes
}
