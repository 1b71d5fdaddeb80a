// Package script compiles stored behavior fragments into callable handlers.
//
// A fragment is a sequence of javascript statements, not a full function
// declaration. Fragments are compiled once, when a design is loaded, and
// executed on a pooled VM with their scope injected as globals at call time.
package script

import (
	"context"
	"fmt"

	"github.com/dop251/goja"
)

// CompileError marks a fragment that failed syntactic compilation,
// as opposed to a fragment that failed while running.
type CompileError struct {
	Src string
	Err error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("fragment does not compile: %v", e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

type Runtime struct {
	pool *RunnerPool
}

func NewRuntime(ctx context.Context, minVmPoolSize int, maxVmPoolSize int) *Runtime {
	return &Runtime{
		pool: NewRunnerPool(ctx, minVmPoolSize, maxVmPoolSize),
	}
}

// Compile turns a fragment into a Handler. Compilation is purely syntactic;
// a fragment that compiles may still fail at run time.
func (r *Runtime) Compile(src string) (*Handler, error) {
	prog, err := goja.Compile("fragment", wrapFragment(src), false)
	if err != nil {
		return nil, &CompileError{Src: src, Err: err}
	}
	return &Handler{rt: r, prog: prog, src: src}, nil
}

// Fragments are statement sequences. Wrapping them in an immediately invoked
// function gives 'return' a meaning and keeps declarations out of the
// global object of the pooled VM.
func wrapFragment(src string) string {
	return "(function() {\n" + src + "\n}).call(this);"
}

// Handler is a compiled fragment bound to the runtime that compiled it.
type Handler struct {
	rt   *Runtime
	prog *goja.Program
	src  string
}

func (h *Handler) Source() string { return h.src }

// Run executes the fragment with the given scope installed as globals on a
// pooled VM. The scope is torn down again before the VM is returned, so
// fragments cannot observe each other's state. The returned value is the
// fragment's return value, exported to Go.
//
// A panic raised by an injected Go callback surfaces as an error.
func (h *Handler) Run(scope map[string]any) (result any, err error) {
	runner := h.rt.pool.GetRunnerFromPool()
	defer h.rt.pool.ReturnRunnerToPool(runner)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fragment panic: %v", r)
		}
	}()

	vm := runner.vm
	for k, v := range scope {
		if setErr := vm.Set(k, v); setErr != nil {
			return nil, fmt.Errorf("failed to inject %q into fragment scope: %w", k, setErr)
		}
	}
	defer func() {
		global := vm.GlobalObject()
		for k := range scope {
			_ = global.Delete(k)
		}
	}()

	value, err := vm.RunProgram(h.prog)
	if err != nil {
		return nil, err
	}
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, nil
	}
	return value.Export(), nil
}
