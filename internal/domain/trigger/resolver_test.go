package trigger_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/okian/tripwire/internal/adapters/repository"
	"github.com/okian/tripwire/internal/domain/assignment"
	"github.com/okian/tripwire/internal/domain/expression"
	"github.com/okian/tripwire/internal/domain/model"
	"github.com/okian/tripwire/internal/domain/occurrence"
	"github.com/okian/tripwire/internal/domain/trigger"
	. "github.com/smartystreets/goconvey/convey"
)

type countingConfirmer struct {
	mu  sync.Mutex
	got []model.Confirmation
}

func (c *countingConfirmer) Enqueue(_ context.Context, conf model.Confirmation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, conf)
	return nil
}

func (c *countingConfirmer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

type fixture struct {
	registry  *trigger.Registry
	store     *repository.MemoryStore
	tracker   *occurrence.Tracker
	confirmer *countingConfirmer
	resolver  *trigger.Resolver
}

func newFixture(triggers model.Triggers) *fixture {
	f := &fixture{
		registry:  trigger.NewRegistry(),
		store:     repository.NewMemoryStore(),
		confirmer: &countingConfirmer{},
	}
	f.registry.Replace(triggers)
	engine, err := expression.New()
	So(err, ShouldBeNil)
	f.tracker = occurrence.New(f.store)
	assigner := assignment.New(f.store, assignment.WithConfirmer(f.confirmer))
	f.resolver = trigger.NewResolver(f.registry, engine, f.tracker, assigner)
	return f
}

// myEvent is the trigger from the product scenario: free users see P1,
// everyone else is held out.
func myEvent() model.Triggers {
	return model.Triggers{
		"my_event": {
			EventName: "my_event",
			Rules: []model.AudienceRule{
				{
					Expression: model.Expression{Source: "user.plan == 'free'", Dialect: model.DialectCEL},
					Experiment: model.RawExperiment{ID: "E1", GroupID: "G1", Variants: []model.VariantOption{
						{ID: "E1-t", Type: model.VariantTreatment, WeightPercent: 100, ContentID: "P1"},
					}},
				},
				{
					Experiment: model.RawExperiment{ID: "E2", GroupID: "G2", Variants: []model.VariantOption{
						{ID: "E2-h", Type: model.VariantHoldout, WeightPercent: 100},
					}},
				},
			},
		},
	}
}

func user(plan string) model.Attributes {
	return model.Attributes{User: map[string]any{"plan": plan}}
}

func TestResolveScenario(t *testing.T) {
	Convey("Given the my_event trigger", t, func() {
		ctx := context.Background()
		f := newFixture(myEvent())

		Convey("When a free user fires the event", func() {
			out := f.resolver.Resolve(ctx, "my_event", user("free"), trigger.Options{})

			Convey("Then the paywall for E1 with content P1 is shown", func() {
				So(out.Kind, ShouldEqual, model.OutcomePaywall)
				So(out.ShowsPaywall(), ShouldBeTrue)
				So(out.Experiment.ID, ShouldEqual, "E1")
				So(out.Experiment.Variant.ContentID, ShouldEqual, "P1")
				So(f.confirmer.count(), ShouldEqual, 1)
			})
		})

		Convey("When a pro user fires the event", func() {
			out := f.resolver.Resolve(ctx, "my_event", user("pro"), trigger.Options{})

			Convey("Then rule A fails and the holdout of E2 is returned", func() {
				So(out.Kind, ShouldEqual, model.OutcomeHoldout)
				So(out.ShowsPaywall(), ShouldBeFalse)
				So(out.Experiment.ID, ShouldEqual, "E2")
			})
		})

		Convey("When the same bundle is resolved twice", func() {
			first := f.resolver.Resolve(ctx, "my_event", user("free"), trigger.Options{})
			second := f.resolver.Resolve(ctx, "my_event", user("free"), trigger.Options{})

			Convey("Then the outcomes are identical and only one confirmation is sent", func() {
				So(second, ShouldResemble, first)
				So(f.confirmer.count(), ShouldEqual, 1)
			})
		})

		Convey("When the event has no trigger", func() {
			out := f.resolver.Resolve(ctx, "unknown_event", user("free"), trigger.Options{})

			Convey("Then the outcome is EventNotFound", func() {
				So(out.Kind, ShouldEqual, model.OutcomeEventNotFound)
				So(errors.Is(out.Err, trigger.ErrEventNotFound), ShouldBeTrue)
			})
		})
	})
}

func TestResolveOccurrences(t *testing.T) {
	Convey("Given a rule limited to one occurrence ahead of a fallback rule", t, func() {
		ctx := context.Background()
		triggers := myEvent()
		tr := triggers["my_event"]
		tr.Rules[0].Occurrence = &model.OccurrenceConstraint{Key: "K", MaxCount: 1, Interval: model.Infinity()}
		tr.Rules[1].Occurrence = &model.OccurrenceConstraint{Key: "F", MaxCount: 5}
		triggers["my_event"] = tr
		f := newFixture(triggers)
		k := model.OccurrenceConstraint{Key: "K", MaxCount: 1}
		fb := model.OccurrenceConstraint{Key: "F", MaxCount: 5}

		Convey("When the first rule wins", func() {
			out := f.resolver.Resolve(ctx, "my_event", user("free"), trigger.Options{})
			So(out.Kind, ShouldEqual, model.OutcomePaywall)

			Convey("Then only its key consumed budget", func() {
				n, _ := f.tracker.Count(ctx, k)
				So(n, ShouldEqual, 1)
				n, _ = f.tracker.Count(ctx, fb)
				So(n, ShouldEqual, 0)
			})

			Convey("Then the second fire is exceeded and falls through", func() {
				out := f.resolver.Resolve(ctx, "my_event", user("free"), trigger.Options{})
				So(out.Kind, ShouldEqual, model.OutcomeHoldout)
				So(out.Experiment.ID, ShouldEqual, "E2")
			})
		})

		Convey("When the expression of a limited rule fails", func() {
			out := f.resolver.Resolve(ctx, "my_event", user("pro"), trigger.Options{})
			So(out.Kind, ShouldEqual, model.OutcomeHoldout)

			Convey("Then its budget is untouched", func() {
				n, _ := f.tracker.Count(ctx, k)
				So(n, ShouldEqual, 0)
			})
		})

		Convey("When resolving as a dry run", func() {
			out := f.resolver.Resolve(ctx, "my_event", user("free"), trigger.Options{DryRun: true})
			So(out.Kind, ShouldEqual, model.OutcomePaywall)

			Convey("Then no budget, assignment or confirmation is consumed", func() {
				n, _ := f.tracker.Count(ctx, k)
				So(n, ShouldEqual, 0)
				So(f.confirmer.count(), ShouldEqual, 0)
				_, err := f.store.Get(ctx, "assignments")
				So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When many fires race for the single slot", func() {
			const fires = 16
			outs := make([]model.Outcome, fires)
			var wg sync.WaitGroup
			for i := 0; i < fires; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					outs[i] = f.resolver.Resolve(ctx, "my_event", user("free"), trigger.Options{})
				}(i)
			}
			wg.Wait()

			Convey("Then exactly one shows the paywall", func() {
				paywalls := 0
				for _, o := range outs {
					if o.Kind == model.OutcomePaywall {
						paywalls++
					}
				}
				So(paywalls, ShouldEqual, 1)
			})
		})
	})
}

func TestResolveNoRuleMatch(t *testing.T) {
	Convey("Given rules that cannot match", t, func() {
		ctx := context.Background()
		f := newFixture(model.Triggers{
			"evt": {EventName: "evt", Rules: []model.AudienceRule{
				{
					Expression: model.Expression{Source: "user.plan ===", Dialect: model.DialectCEL},
					Experiment: model.RawExperiment{ID: "broken"},
				},
				{
					Expression: model.Expression{Source: "$.user.plan === 'vip'", Dialect: model.DialectScript},
					Experiment: model.RawExperiment{ID: "vip"},
				},
				{
					Occurrence: &model.OccurrenceConstraint{Key: "never", MaxCount: 0},
					Experiment: model.RawExperiment{ID: "capped"},
				},
			}},
			"empty": {EventName: "empty"},
		})

		Convey("When the event fires", func() {
			out := f.resolver.Resolve(ctx, "evt", user("free"), trigger.Options{})

			Convey("Then the outcome lists every unmatched rule with its reason", func() {
				So(out.Kind, ShouldEqual, model.OutcomeNoRuleMatch)
				So(out.Unmatched, ShouldResemble, []model.UnmatchedRule{
					{ExperimentID: "broken", Reason: model.UnmatchedExpression},
					{ExperimentID: "vip", Reason: model.UnmatchedExpression},
					{ExperimentID: "capped", Reason: model.UnmatchedOccurrence},
				})
			})
		})

		Convey("When a trigger has no rules", func() {
			out := f.resolver.Resolve(ctx, "empty", user("free"), trigger.Options{})
			So(out.Kind, ShouldEqual, model.OutcomeNoRuleMatch)
		})
	})
}

func TestResolveAssignmentError(t *testing.T) {
	Convey("Given a matching rule whose experiment has no variants", t, func() {
		ctx := context.Background()
		f := newFixture(model.Triggers{
			"evt": {EventName: "evt", Rules: []model.AudienceRule{{
				Occurrence: &model.OccurrenceConstraint{Key: "K", MaxCount: 1},
				Experiment: model.RawExperiment{ID: "E"},
			}}},
		})

		out := f.resolver.Resolve(ctx, "evt", model.Attributes{}, trigger.Options{})

		Convey("Then the outcome is an error and no budget is consumed", func() {
			So(out.Kind, ShouldEqual, model.OutcomeError)
			So(errors.Is(out.Err, assignment.ErrNoVariants), ShouldBeTrue)
			n, _ := f.tracker.Count(ctx, model.OccurrenceConstraint{Key: "K", MaxCount: 1})
			So(n, ShouldEqual, 0)
		})
	})
}
