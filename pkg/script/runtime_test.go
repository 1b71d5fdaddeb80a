package script

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewRuntime(ctx, 1, 4)
}

func Test_fragment_returns_exported_value(t *testing.T) {
	rt := newTestRuntime(t)

	handler, err := rt.Compile(`return 1 + 2;`)
	require.NoError(t, err)

	result, err := handler.Run(nil)
	require.NoError(t, err)
	assert.EqualValues(t, 3, result)
}

func Test_fragment_without_return_yields_nil(t *testing.T) {
	rt := newTestRuntime(t)

	handler, err := rt.Compile(`var unused = 42;`)
	require.NoError(t, err)

	result, err := handler.Run(nil)
	require.NoError(t, err)
	assert.Nil(t, result)
}

func Test_compile_failure_is_a_compile_error(t *testing.T) {
	rt := newTestRuntime(t)

	_, err := rt.Compile(`return return;`)

	require.Error(t, err)
	var ce *CompileError
	assert.ErrorAs(t, err, &ce)
}

func Test_runtime_failure_is_not_a_compile_error(t *testing.T) {
	rt := newTestRuntime(t)

	handler, err := rt.Compile(`missing.property = 1;`)
	require.NoError(t, err)

	_, err = handler.Run(nil)
	require.Error(t, err)
	var ce *CompileError
	assert.False(t, errors.As(err, &ce), "runtime errors must not classify as compile errors")
}

func Test_scope_is_injected_as_globals(t *testing.T) {
	rt := newTestRuntime(t)

	handler, err := rt.Compile(`return greeting + ", " + name;`)
	require.NoError(t, err)

	result, err := handler.Run(map[string]any{"greeting": "hello", "name": "world"})
	require.NoError(t, err)
	assert.Equal(t, "hello, world", result)
}

func Test_scope_is_torn_down_between_runs(t *testing.T) {
	// setup: pool of exactly one VM so both runs share it
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	rt := NewRuntime(ctx, 1, 1)

	first, err := rt.Compile(`return secret;`)
	require.NoError(t, err)
	_, err = first.Run(map[string]any{"secret": "s3cr3t"})
	require.NoError(t, err)

	// the second run must not observe the first run's scope
	second, err := rt.Compile(`return typeof secret;`)
	require.NoError(t, err)
	result, err := second.Run(nil)
	require.NoError(t, err)
	assert.Equal(t, "undefined", result)
}

func Test_callback_results_flow_back_to_go(t *testing.T) {
	rt := newTestRuntime(t)

	var got map[string]any
	scope := map[string]any{
		"complete": func(v map[string]any) { got = v },
	}
	handler, err := rt.Compile(`complete({answer: 42, tags: ["a", "b"]});`)
	require.NoError(t, err)

	_, err = handler.Run(scope)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.EqualValues(t, 42, got["answer"])
	assert.EqualValues(t, []any{"a", "b"}, got["tags"])
}

func Test_panicking_callback_surfaces_as_error(t *testing.T) {
	rt := newTestRuntime(t)

	handler, err := rt.Compile(`boom();`)
	require.NoError(t, err)

	_, err = handler.Run(map[string]any{
		"boom": func() { panic("kaboom") },
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}
