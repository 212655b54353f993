package expression

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/okian/tripwire/internal/domain/model"
)

// celEvaluator evaluates CEL expressions. Compiled programs are memoized by
// source; cel.Program is safe for concurrent use.
type celEvaluator struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

func newCELEvaluator() (*celEvaluator, error) {
	ns := cel.MapType(cel.StringType, cel.DynType)
	env, err := cel.NewEnv(
		cel.Variable(model.NamespaceUser, ns),
		cel.Variable(model.NamespaceDevice, ns),
		cel.Variable(model.NamespaceParams, ns),
	)
	if err != nil {
		return nil, fmt.Errorf("create cel environment: %w", err)
	}
	return &celEvaluator{env: env, programs: make(map[string]cel.Program)}, nil
}

func (c *celEvaluator) Validate(source string) error {
	_, err := c.program(source)
	return err
}

func (c *celEvaluator) Evaluate(_ context.Context, source string, attrs model.Attributes) (bool, error) {
	prog, err := c.program(source)
	if err != nil {
		return false, err
	}

	val, _, err := prog.Eval(attrs.Namespaces())
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrEvaluate, err)
	}
	b, ok := val.Value().(bool)
	if !ok {
		return false, fmt.Errorf("%w: got %T", ErrNotBool, val.Value())
	}
	return b, nil
}

func (c *celEvaluator) program(source string) (cel.Program, error) {
	c.mu.RLock()
	prog, ok := c.programs[source]
	c.mu.RUnlock()
	if ok {
		return prog, nil
	}

	ast, issues := c.env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompile, issues.Err())
	}
	// dyn results are checked at evaluation time
	switch ast.OutputType().Kind() {
	case types.BoolKind, types.DynKind:
	default:
		return nil, fmt.Errorf("%w: result type is %s", ErrNotBool, ast.OutputType())
	}
	prog, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompile, err)
	}

	c.mu.Lock()
	c.programs[source] = prog
	c.mu.Unlock()
	return prog, nil
}
