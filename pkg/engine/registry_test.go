package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrtrick/fireengine/pkg/engine/model"
	"github.com/mrtrick/fireengine/pkg/engine/rule"
	"github.com/mrtrick/fireengine/pkg/script"
	"github.com/mrtrick/fireengine/pkg/storage"
)

func newRegistry(t *testing.T, designs ...string) (*Registry, error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	scripts := script.NewRuntime(ctx, 1, 2)
	rules := rule.NewCompiler(scripts)
	src := make(storage.StaticDesigns, 0, len(designs))
	for _, d := range designs {
		src = append(src, []byte(d))
	}
	return NewRegistry(ctx, src, rules, scripts)
}

func Test_registry_loads_designs_in_order(t *testing.T) {
	r, err := newRegistry(t,
		`{"id": "b", "name": "B", "version": 1, "states": ["open"], "create": {"to": ["open"]}, "actions": []}`,
		`{"id": "a", "name": "A", "version": 2, "states": ["open"], "create": {"to": ["open"]}, "actions": []}`,
	)
	require.NoError(t, err)

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].ID)
	assert.Equal(t, "a", all[1].ID)

	design, err := r.Get("a")
	require.NoError(t, err)
	assert.Equal(t, 2, design.Version)

	_, err = r.Get("nope")
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func Test_registry_rejects_invalid_documents(t *testing.T) {
	cases := map[string]string{
		"not json":       `{nope`,
		"missing states": `{"id": "a", "name": "A", "version": 1, "create": {"to": ["open"]}, "actions": []}`,
		"empty states":   `{"id": "a", "name": "A", "version": 1, "states": [], "create": {"to": ["open"]}, "actions": []}`,
		"bad state tag":  `{"id": "a", "name": "A", "version": 1, "states": ["not a tag"], "create": {"to": ["not a tag"]}, "actions": []}`,
		"zero version":   `{"id": "a", "name": "A", "version": 0, "states": ["open"], "create": {"to": ["open"]}, "actions": []}`,
		"create sans to": `{"id": "a", "name": "A", "version": 1, "states": ["open"], "create": {}, "actions": []}`,
		"action sans id": `{"id": "a", "name": "A", "version": 1, "states": ["open"], "create": {"to": ["open"]}, "actions": [{"from": ["open"]}]}`,
	}
	for name, design := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := newRegistry(t, design)
			assert.Error(t, err)
		})
	}
}

func Test_registry_rejects_duplicate_design_ids(t *testing.T) {
	design := `{"id": "a", "name": "A", "version": 1, "states": ["open"], "create": {"to": ["open"]}, "actions": []}`
	_, err := newRegistry(t, design, design)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate design id")
}

func Test_registry_rejects_uncompilable_fragments(t *testing.T) {
	_, err := newRegistry(t, `{
		"id": "a", "name": "A", "version": 1, "states": ["open"],
		"create": {"to": ["open"], "fire": "complete((("},
		"actions": []
	}`)
	require.Error(t, err)
	var ce *script.CompileError
	assert.ErrorAs(t, err, &ce)
}

func Test_registry_rejects_malformed_rule_specs(t *testing.T) {
	_, err := newRegistry(t, `{
		"id": "a", "name": "A", "version": 1, "states": ["open"],
		"create": {"to": ["open"], "allowed": 42},
		"actions": []
	}`)
	assert.Error(t, err)
}

func Test_resolve_binds_the_owning_design(t *testing.T) {
	r, err := newRegistry(t,
		`{"id": "a", "name": "A", "version": 1, "states": ["open"], "create": {"to": ["open"]}, "actions": []}`)
	require.NoError(t, err)

	activity := &model.Activity{DesignID: "a", State: []string{"open"}}
	require.NoError(t, r.Resolve(activity))
	assert.NotNil(t, activity.Design())

	orphan := &model.Activity{DesignID: "gone", State: []string{"open"}}
	err = r.Resolve(orphan)
	var validation *ValidationError
	assert.ErrorAs(t, err, &validation)
}

func Test_validate_activity_checks_schema_and_design_reference(t *testing.T) {
	r, err := newRegistry(t,
		`{"id": "a", "name": "A", "version": 1, "states": ["open"], "create": {"to": ["open"]}, "actions": []}`)
	require.NoError(t, err)

	ok := &model.Activity{DesignID: "a", State: []string{"open"}}
	assert.NoError(t, r.ValidateActivity(ok))

	var validation *ValidationError

	empty := &model.Activity{DesignID: "a"}
	assert.ErrorAs(t, r.ValidateActivity(empty), &validation, "the state set must not be empty")

	orphan := &model.Activity{DesignID: "gone", State: []string{"open"}}
	assert.ErrorAs(t, r.ValidateActivity(orphan), &validation)
}

func Test_design_action_lookup(t *testing.T) {
	r, err := newRegistry(t,
		`{"id": "a", "name": "A", "version": 1, "states": ["open"], "create": {"to": ["open"]}, "actions": []}`)
	require.NoError(t, err)

	action, err := r.Action("a", "create")
	require.NoError(t, err)
	assert.Equal(t, "create", action.ID())
	assert.True(t, action.Activity.IsNew())

	_, err = r.Action("a", "destroy")
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)
}
