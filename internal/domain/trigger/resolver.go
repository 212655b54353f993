// Package trigger resolves analytics events into paywall outcomes by walking
// the event's audience rules in order.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/tripwire/internal/domain/assignment"
	"github.com/okian/tripwire/internal/domain/model"
	"github.com/okian/tripwire/internal/domain/occurrence"
	"github.com/okian/tripwire/pkg/logger"
	"github.com/okian/tripwire/pkg/metrics"
)

// Matcher evaluates a rule expression, absorbing errors as no match.
type Matcher interface {
	Match(ctx context.Context, expr model.Expression, attrs model.Attributes) bool
}

// Occurrences reserves occurrence budget for a constraint.
type Occurrences interface {
	Reserve(ctx context.Context, c *model.OccurrenceConstraint) (*occurrence.Reservation, error)
}

// Assigner resolves an experiment to a variant and confirms new assignments.
type Assigner interface {
	Resolve(ctx context.Context, raw model.RawExperiment, dryRun bool) (assignment.Result, error)
	Confirm(ctx context.Context, exp model.Experiment)
}

// Source looks up the trigger bound to an event.
type Source interface {
	Lookup(event string) (model.Trigger, bool)
}

// Options tunes a single resolution.
type Options struct {
	// DryRun evaluates without consuming occurrence budget, persisting a new
	// assignment or sending a confirmation.
	DryRun bool
}

// Resolver is the trigger resolution orchestrator.
type Resolver struct {
	source      Source
	matcher     Matcher
	occurrences Occurrences
	assigner    Assigner
	log         logger.Logger
}

// NewResolver wires the orchestrator.
func NewResolver(source Source, matcher Matcher, occurrences Occurrences, assigner Assigner, opts ...Option) *Resolver {
	r := &Resolver{
		source:      source,
		matcher:     matcher,
		occurrences: occurrences,
		assigner:    assigner,
		log:         logger.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve produces the terminal outcome for event.
func (r *Resolver) Resolve(ctx context.Context, event string, attrs model.Attributes, opts Options) model.Outcome {
	start := time.Now()
	var out model.Outcome
	if t, ok := r.source.Lookup(event); ok {
		out = r.ResolveTrigger(ctx, t, attrs, opts)
	} else {
		out = model.EventNotFoundOutcome()
		out.Err = fmt.Errorf("%w: %q", ErrEventNotFound, event)
	}
	metrics.RecordResolution(out.Kind.String(), time.Since(start))

	fields := []logger.Field{
		logger.String("event", event),
		logger.String("outcome", out.Kind.String()),
		logger.Bool("dry_run", opts.DryRun),
	}
	if out.Experiment != nil {
		fields = append(fields,
			logger.String("experiment", out.Experiment.ID),
			logger.String("variant", out.Experiment.Variant.ID))
	}
	if out.Kind == model.OutcomeError {
		r.log.Error(ctx, "trigger resolution failed", append(fields, logger.Error(out.Err))...)
	} else {
		r.log.Debug(ctx, "trigger resolved", fields...)
	}
	return out
}

// ResolveTrigger walks t's rules in order. The first rule whose expression
// matches and whose occurrence limit allows it is terminal.
func (r *Resolver) ResolveTrigger(ctx context.Context, t model.Trigger, attrs model.Attributes, opts Options) model.Outcome {
	var unmatched []model.UnmatchedRule
	for _, rule := range t.Rules {
		if !r.matcher.Match(ctx, rule.Expression, attrs) {
			unmatched = append(unmatched, model.UnmatchedRule{
				ExperimentID: rule.Experiment.ID,
				Reason:       model.UnmatchedExpression,
			})
			continue
		}

		res, err := r.occurrences.Reserve(ctx, rule.Occurrence)
		if err != nil {
			if errors.Is(err, occurrence.ErrExceeded) {
				metrics.RecordOccurrenceRejected()
			} else {
				metrics.RecordErrorByComponent("occurrence", "reserve")
				r.log.Warn(ctx, "occurrence check failed, rule skipped",
					logger.String("experiment", rule.Experiment.ID),
					logger.Error(err))
			}
			unmatched = append(unmatched, model.UnmatchedRule{
				ExperimentID: rule.Experiment.ID,
				Reason:       model.UnmatchedOccurrence,
			})
			continue
		}

		return r.terminal(ctx, rule, res, opts)
	}
	return model.NoRuleMatchOutcome(unmatched)
}

func (r *Resolver) terminal(ctx context.Context, rule model.AudienceRule, res *occurrence.Reservation, opts Options) model.Outcome {
	defer res.Release()

	assigned, err := r.assigner.Resolve(ctx, rule.Experiment, opts.DryRun)
	if err != nil {
		return model.ErrorOutcome(err)
	}
	if !opts.DryRun {
		if err := res.Commit(ctx); err != nil {
			metrics.RecordErrorByComponent("occurrence", "commit")
			r.log.Error(ctx, "failed to record occurrence",
				logger.String("experiment", rule.Experiment.ID),
				logger.Error(err))
		}
		if assigned.New {
			r.assigner.Confirm(ctx, assigned.Experiment)
		}
	}

	if assigned.Experiment.Variant.Type == model.VariantHoldout {
		return model.HoldoutOutcome(assigned.Experiment)
	}
	return model.PaywallOutcome(assigned.Experiment)
}
