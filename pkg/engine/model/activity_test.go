package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_roles_grant_keeps_user_lists_sets(t *testing.T) {
	roles := Roles{}
	roles.Grant("creator", "u1")
	roles.Grant("creator", "u1")
	roles.Grant("actor", "u1")
	roles.Grant("actor", "u2")

	assert.Equal(t, []string{"u1"}, roles["creator"])
	assert.Equal(t, []string{"u1", "u2"}, roles["actor"])
}

func Test_roles_of_lists_roles_mentioning_the_user(t *testing.T) {
	roles := Roles{
		"creator": {"u1"},
		"actor":   {"u1", "u2"},
		"watcher": {"u3"},
	}
	assert.Equal(t, []string{"actor", "creator"}, roles.Of("u1"))
	assert.Empty(t, roles.Of("u9"))
}

func Test_activity_is_new_until_persisted(t *testing.T) {
	a := &Activity{DesignID: "ticket"}
	assert.True(t, a.IsNew())
	a.ID = "abc"
	assert.False(t, a.IsNew())
}

func Test_clone_is_independent_of_the_original(t *testing.T) {
	original := &Activity{
		ID:       "a1",
		Rev:      "r1",
		DesignID: "ticket",
		State:    []string{"open"},
		Data:     map[string]any{"nested": map[string]any{"n": 1.0}},
		Roles:    Roles{"creator": {"u1"}},
		History:  []HistoryEntry{{When: time.Now().UTC(), Message: "Created", Action: "create"}},
	}

	clone := original.Clone()
	clone.State = append(clone.State, "urgent")
	clone.Data["nested"].(map[string]any)["n"] = 2.0
	clone.Roles.Grant("creator", "u2")
	clone.History = append(clone.History, HistoryEntry{Message: "Fired action Close"})

	assert.Equal(t, []string{"open"}, original.State)
	assert.Equal(t, 1.0, original.Data["nested"].(map[string]any)["n"])
	assert.Equal(t, []string{"u1"}, original.Roles["creator"])
	assert.Len(t, original.History, 1)
}

func Test_document_round_trips_the_persisted_shape(t *testing.T) {
	a := &Activity{
		ID:       "a1",
		Rev:      "r1",
		DesignID: "ticket",
		State:    []string{"open"},
	}

	doc := a.Document()
	require.NotNil(t, doc)
	assert.Equal(t, "a1", doc["id"])
	assert.Equal(t, "r1", doc["revisionToken"])
	assert.Equal(t, "ticket", doc["design"])
	assert.Equal(t, []any{"open"}, doc["state"])
	assert.NotContains(t, doc, "data", "empty optionals are omitted")
}

func Test_history_newest_first_is_a_sorted_copy(t *testing.T) {
	older := HistoryEntry{When: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Message: "Created", Action: "create"}
	newer := HistoryEntry{When: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), Message: "Fired action Close", Action: "close"}
	a := &Activity{History: []HistoryEntry{older, newer}}

	sorted := a.HistoryNewestFirst()
	assert.Equal(t, []HistoryEntry{newer, older}, sorted)
	// persisted order is untouched
	assert.Equal(t, []HistoryEntry{older, newer}, a.History)
}

func Test_display_name_defaults_from_the_id(t *testing.T) {
	spec := ActionSpec{ID: "close"}
	assert.Equal(t, "Close", spec.DisplayName())

	spec.Name = "Close ticket"
	assert.Equal(t, "Close ticket", spec.DisplayName())
}

func Test_graph_renders_states_and_actions(t *testing.T) {
	d := Design{
		ID:      "ticket",
		Name:    "Ticket",
		Version: 1,
		States:  []string{"open", "closed"},
		Create:  ActionSpec{To: []string{"open"}},
		Actions: []ActionSpec{{ID: "close", From: []string{"open"}, To: []string{"closed"}}},
	}

	graph := d.Graph()
	assert.Contains(t, graph, "digraph ticket {")
	assert.Contains(t, graph, `close [ label="Close"];`)
	assert.Contains(t, graph, "open->close;")
	assert.Contains(t, graph, "close->closed;")
}
