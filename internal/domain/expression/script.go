package expression

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/okian/tripwire/internal/domain/model"
)

// scriptEvaluator evaluates JavaScript rules. The bundle is passed as the
// single argument "$". A source that compiles as a single expression is one;
// otherwise it is compiled as a function body.
//
// goja runtimes are not goroutine safe, so each evaluation gets its own
// runtime. Compiled programs are shared.
type scriptEvaluator struct {
	timeout time.Duration

	mu       sync.RWMutex
	programs map[string]*goja.Program
}

func newScriptEvaluator(timeout time.Duration) *scriptEvaluator {
	return &scriptEvaluator{timeout: timeout, programs: make(map[string]*goja.Program)}
}

func (s *scriptEvaluator) Validate(source string) error {
	_, err := s.program(source)
	return err
}

func (s *scriptEvaluator) Evaluate(ctx context.Context, source string, attrs model.Attributes) (bool, error) {
	prog, err := s.program(source)
	if err != nil {
		return false, err
	}

	vm := goja.New()
	timer := time.AfterFunc(s.timeout, func() { vm.Interrupt(ErrTimeout) })
	defer timer.Stop()
	stop := context.AfterFunc(ctx, func() { vm.Interrupt(ctx.Err()) })
	defer stop()

	fnVal, err := vm.RunProgram(prog)
	if err != nil {
		return false, scriptError(err)
	}
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		return false, fmt.Errorf("%w: rule is not callable", ErrEvaluate)
	}
	res, err := fn(goja.Undefined(), vm.ToValue(attrs.Namespaces()))
	if err != nil {
		return false, scriptError(err)
	}
	b, ok := res.Export().(bool)
	if !ok {
		return false, fmt.Errorf("%w: got %s", ErrNotBool, res.String())
	}
	return b, nil
}

func (s *scriptEvaluator) program(source string) (*goja.Program, error) {
	s.mu.RLock()
	prog, ok := s.programs[source]
	s.mu.RUnlock()
	if ok {
		return prog, nil
	}

	prog, err := goja.Compile("rule", wrapExpression(source), true)
	if err != nil {
		prog, err = goja.Compile("rule", wrapBody(source), true)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCompile, err)
		}
	}

	s.mu.Lock()
	s.programs[source] = prog
	s.mu.Unlock()
	return prog, nil
}

// The newlines keep a trailing line comment in source from swallowing the
// closing tokens.
func wrapExpression(source string) string {
	return "(function($) {\nreturn (\n" + source + "\n);\n})"
}

func wrapBody(source string) string {
	return "(function($) {\n" + source + "\n})"
}

func scriptError(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if cause, ok := interrupted.Value().(error); ok {
			if errors.Is(cause, ErrTimeout) {
				return ErrTimeout
			}
			return fmt.Errorf("%w: %w", ErrEvaluate, cause)
		}
		return ErrTimeout
	}
	return fmt.Errorf("%w: %v", ErrEvaluate, err)
}
