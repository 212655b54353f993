// Package expression evaluates audience rule conditions against an attribute
// bundle. Rules select their dialect at runtime; every dialect honours the
// same contract: namespaces user, device and params, a boolean result, and an
// error for anything malformed.
package expression

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/tripwire/internal/domain/model"
	"github.com/okian/tripwire/pkg/logger"
	"github.com/okian/tripwire/pkg/metrics"
)

const defaultScriptTimeout = 50 * time.Millisecond

// Evaluator evaluates a non-empty source in a single dialect.
type Evaluator interface {
	Evaluate(ctx context.Context, source string, attrs model.Attributes) (bool, error)
	Validate(source string) error
}

// Engine dispatches expressions to the evaluator for their dialect.
type Engine struct {
	log            logger.Logger
	scriptTimeout  time.Duration
	defaultDialect model.Dialect
	evaluators     map[model.Dialect]Evaluator
}

// New creates an engine with the CEL and script dialects registered.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		log:            logger.Nop(),
		scriptTimeout:  defaultScriptTimeout,
		defaultDialect: model.DialectCEL,
		evaluators:     make(map[model.Dialect]Evaluator),
	}
	for _, opt := range opts {
		opt(e)
	}

	celEval, err := newCELEvaluator()
	if err != nil {
		return nil, err
	}
	e.evaluators[model.DialectCEL] = celEval
	e.evaluators[model.DialectScript] = newScriptEvaluator(e.scriptTimeout)
	return e, nil
}

// Evaluate reports whether expr matches attrs. An empty expression always
// matches.
func (e *Engine) Evaluate(ctx context.Context, expr model.Expression, attrs model.Attributes) (bool, error) {
	if expr.IsEmpty() {
		return true, nil
	}
	ev, err := e.evaluator(expr.Dialect)
	if err != nil {
		return false, err
	}
	return ev.Evaluate(ctx, expr.Source, attrs)
}

// Validate compiles expr without evaluating it.
func (e *Engine) Validate(expr model.Expression) error {
	if expr.IsEmpty() {
		return nil
	}
	ev, err := e.evaluator(expr.Dialect)
	if err != nil {
		return err
	}
	return ev.Validate(expr.Source)
}

// Match is Evaluate with errors absorbed: a failing expression is logged,
// counted and treated as no match.
func (e *Engine) Match(ctx context.Context, expr model.Expression, attrs model.Attributes) bool {
	ok, err := e.Evaluate(ctx, expr, attrs)
	if err != nil {
		dialect := string(e.dialect(expr.Dialect))
		metrics.RecordExpressionError(dialect)
		e.log.Warn(ctx, "expression treated as no match",
			logger.String("dialect", dialect),
			logger.String("source", expr.Source),
			logger.Error(err))
		return false
	}
	return ok
}

func (e *Engine) dialect(d model.Dialect) model.Dialect {
	if d == "" {
		return e.defaultDialect
	}
	return d
}

func (e *Engine) evaluator(d model.Dialect) (Evaluator, error) {
	ev, ok := e.evaluators[e.dialect(d)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDialect, d)
	}
	return ev, nil
}
