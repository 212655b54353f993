package expression_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/tripwire/internal/domain/expression"
	"github.com/okian/tripwire/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func cel(src string) model.Expression {
	return model.Expression{Source: src, Dialect: model.DialectCEL}
}

func script(src string) model.Expression {
	return model.Expression{Source: src, Dialect: model.DialectScript}
}

func TestEngineEmptyExpression(t *testing.T) {
	Convey("Given an engine", t, func() {
		e, err := expression.New()
		So(err, ShouldBeNil)
		ctx := context.Background()

		bundles := []model.Attributes{
			{},
			{User: map[string]any{"plan": "pro"}},
			{Device: map[string]any{"os": "ios"}, Params: map[string]any{"x": 1}},
		}

		Convey("An empty expression matches every bundle in both dialects", func() {
			for _, attrs := range bundles {
				for _, d := range []model.Dialect{model.DialectCEL, model.DialectScript, ""} {
					ok, err := e.Evaluate(ctx, model.Expression{Dialect: d}, attrs)
					So(err, ShouldBeNil)
					So(ok, ShouldBeTrue)
				}
			}
		})
	})
}

func TestEngineCEL(t *testing.T) {
	Convey("Given a CEL expression", t, func() {
		e, err := expression.New()
		So(err, ShouldBeNil)
		ctx := context.Background()
		free := model.Attributes{User: map[string]any{"plan": "free", "sessions": 3}}
		pro := model.Attributes{User: map[string]any{"plan": "pro"}}

		Convey("When it compares a user attribute", func() {
			expr := cel("user.plan == 'free'")

			Convey("Then it matches only the matching bundle", func() {
				ok, err := e.Evaluate(ctx, expr, free)
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)

				ok, err = e.Evaluate(ctx, expr, pro)
				So(err, ShouldBeNil)
				So(ok, ShouldBeFalse)
			})
		})

		Convey("When it combines namespaces", func() {
			expr := cel("user.sessions > 2 && device.os == 'ios' && params.source == 'onboarding'")
			attrs := model.Attributes{
				User:   map[string]any{"sessions": 3},
				Device: map[string]any{"os": "ios"},
				Params: map[string]any{"source": "onboarding"},
			}

			ok, err := e.Evaluate(ctx, expr, attrs)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
		})

		Convey("When the dialect is omitted it defaults to CEL", func() {
			ok, err := e.Evaluate(ctx, model.Expression{Source: "user.plan == 'free'"}, free)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
		})

		Convey("When the expression does not parse", func() {
			_, err := e.Evaluate(ctx, cel("user.plan ==="), free)
			So(errors.Is(err, expression.ErrCompile), ShouldBeTrue)
			So(e.Match(ctx, cel("user.plan ==="), free), ShouldBeFalse)
		})

		Convey("When the expression is not boolean", func() {
			err := e.Validate(cel("1 + 2"))
			So(errors.Is(err, expression.ErrNotBool), ShouldBeTrue)

			_, err = e.Evaluate(ctx, cel("user.plan"), free)
			So(errors.Is(err, expression.ErrNotBool), ShouldBeTrue)
		})

		Convey("When the attribute is missing", func() {
			_, err := e.Evaluate(ctx, cel("user.plan == 'free'"), model.Attributes{})
			So(errors.Is(err, expression.ErrEvaluate), ShouldBeTrue)

			ok, err := e.Evaluate(ctx, cel("has(user.plan) && user.plan == 'free'"), model.Attributes{})
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})
	})
}

func TestEngineScript(t *testing.T) {
	Convey("Given a script expression", t, func() {
		e, err := expression.New(expression.WithScriptTimeout(100 * time.Millisecond))
		So(err, ShouldBeNil)
		ctx := context.Background()
		free := model.Attributes{User: map[string]any{"plan": "free"}, Params: map[string]any{"count": 4}}

		Convey("When it is a bare expression", func() {
			ok, err := e.Evaluate(ctx, script("$.user.plan === 'free'"), free)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
		})

		Convey("When it is a function body", func() {
			src := "var n = $.params.count;\nif (n > 3) { return true; }\nreturn false;"
			ok, err := e.Evaluate(ctx, script(src), free)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
		})

		Convey("When a bare expression mentions return in a literal or comment", func() {
			note := model.Attributes{User: map[string]any{"plan": "free", "note": "return"}}

			ok, err := e.Evaluate(ctx, script("$.user.note === 'return'"), note)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)

			ok, err = e.Evaluate(ctx, script("$.user.plan === 'free' /* return early */"), note)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)

			ok, err = e.Evaluate(ctx, script("$.user.plan === 'free' // return early"), note)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
		})

		Convey("When a missing attribute is read", func() {
			ok, err := e.Evaluate(ctx, script("$.device.os === 'ios'"), free)
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})

		Convey("When the result is not boolean", func() {
			_, err := e.Evaluate(ctx, script("$.user.plan"), free)
			So(errors.Is(err, expression.ErrNotBool), ShouldBeTrue)
		})

		Convey("When the script does not compile", func() {
			So(errors.Is(e.Validate(script("$.user.plan ===")), expression.ErrCompile), ShouldBeTrue)
		})

		Convey("When the script throws", func() {
			_, err := e.Evaluate(ctx, script("$.nothing.here === 1"), free)
			So(errors.Is(err, expression.ErrEvaluate), ShouldBeTrue)
		})

		Convey("When the script never finishes", func() {
			_, err := e.Evaluate(ctx, script("while (true) {} return true;"), free)
			So(errors.Is(err, expression.ErrTimeout), ShouldBeTrue)
			So(e.Match(ctx, script("while (true) {} return true;"), free), ShouldBeFalse)
		})
	})
}

func TestEngineUnknownDialect(t *testing.T) {
	Convey("Given an expression with an unknown dialect", t, func() {
		e, err := expression.New()
		So(err, ShouldBeNil)

		expr := model.Expression{Source: "true", Dialect: "lua"}
		So(errors.Is(e.Validate(expr), expression.ErrUnknownDialect), ShouldBeTrue)
		So(e.Match(context.Background(), expr, model.Attributes{}), ShouldBeFalse)
	})
}
