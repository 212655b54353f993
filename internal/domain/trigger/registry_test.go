package trigger_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/okian/tripwire/internal/domain/expression"
	"github.com/okian/tripwire/internal/domain/model"
	"github.com/okian/tripwire/internal/domain/trigger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestRegistry(t *testing.T) {
	Convey("Given an empty registry", t, func() {
		r := trigger.NewRegistry()
		So(r.Len(), ShouldEqual, 0)
		So(r.Version(), ShouldEqual, 0)
		_, ok := r.Lookup("my_event")
		So(ok, ShouldBeFalse)

		Convey("When triggers are installed", func() {
			v := r.Replace(myEvent())

			Convey("Then they can be looked up with their experiments", func() {
				So(v, ShouldEqual, 1)
				So(r.Len(), ShouldEqual, 1)
				tr, ok := r.Lookup("my_event")
				So(ok, ShouldBeTrue)
				So(tr.Rules, ShouldHaveLength, 2)
				So(r.Experiments(), ShouldContainKey, "E1")
				So(r.Experiments(), ShouldContainKey, "E2")
				So(r.LoadedAt().IsZero(), ShouldBeFalse)
			})

			Convey("Then a refresh replaces the whole set", func() {
				So(r.Replace(model.Triggers{"other": {EventName: "other"}}), ShouldEqual, 2)
				_, ok := r.Lookup("my_event")
				So(ok, ShouldBeFalse)
				So(r.Experiments(), ShouldBeEmpty)
			})
		})
	})
}

func TestValidate(t *testing.T) {
	Convey("Given trigger documents", t, func() {
		engine, err := expression.New()
		So(err, ShouldBeNil)
		ctx := context.Background()

		Convey("When the document is well formed", func() {
			So(trigger.Validate(ctx, engine, myEvent()), ShouldBeNil)
		})

		Convey("When rules are broken", func() {
			bad := model.Triggers{
				"evt": {EventName: "evt", Rules: []model.AudienceRule{
					{
						Expression: model.Expression{Source: "user.plan ==="},
						Experiment: model.RawExperiment{ID: "E1", Variants: []model.VariantOption{
							{ID: "a", WeightPercent: 40}, {ID: "b", WeightPercent: 40},
						}},
						Occurrence: &model.OccurrenceConstraint{MaxCount: 1},
					},
					{Experiment: model.RawExperiment{}},
				}},
			}
			err := trigger.Validate(ctx, engine, bad)

			Convey("Then every problem is reported", func() {
				So(errors.Is(err, trigger.ErrInvalidRule), ShouldBeTrue)
				So(errors.Is(err, expression.ErrCompile), ShouldBeTrue)
				msg := err.Error()
				So(msg, ShouldContainSubstring, "weights sum to 80")
				So(msg, ShouldContainSubstring, "occurrence key is empty")
				So(msg, ShouldContainSubstring, "experiment id is empty")
				So(strings.Count(msg, "has no variants"), ShouldEqual, 1)
			})
		})

		Convey("When two rules count one occurrence key over different windows", func() {
			exp := model.RawExperiment{ID: "E1", Variants: []model.VariantOption{{ID: "a", WeightPercent: 100}}}
			rule := func(iv model.Interval) model.AudienceRule {
				return model.AudienceRule{
					Experiment: exp,
					Occurrence: &model.OccurrenceConstraint{Key: "K", MaxCount: 1, Interval: iv},
				}
			}
			mixed := model.Triggers{
				"a": {EventName: "a", Rules: []model.AudienceRule{rule(model.Minutes(10))}},
				"b": {EventName: "b", Rules: []model.AudienceRule{rule(model.Infinity())}},
			}
			same := model.Triggers{
				"a": {EventName: "a", Rules: []model.AudienceRule{rule(model.Minutes(10))}},
				"b": {EventName: "b", Rules: []model.AudienceRule{rule(model.Minutes(10))}},
			}

			err := trigger.Validate(ctx, engine, mixed)
			So(errors.Is(err, trigger.ErrInvalidRule), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "different intervals")
			So(trigger.Validate(ctx, engine, same), ShouldBeNil)
		})
	})
}
