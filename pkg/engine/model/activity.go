package model

import (
	"encoding/json"
	"slices"
	"sort"
	"time"
)

// Roles maps a role name to the ids of the users holding it on an activity.
type Roles map[string][]string

// Grant adds the user to the role, keeping the user list a set.
func (r Roles) Grant(role string, userID string) {
	if !slices.Contains(r[role], userID) {
		r[role] = append(r[role], userID)
	}
}

// Of returns the roles that mention the given user.
func (r Roles) Of(userID string) []string {
	var roles []string
	for role, users := range r {
		if slices.Contains(users, userID) {
			roles = append(roles, role)
		}
	}
	sort.Strings(roles)
	return roles
}

func (r Roles) clone() Roles {
	if r == nil {
		return nil
	}
	out := make(Roles, len(r))
	for role, users := range r {
		out[role] = slices.Clone(users)
	}
	return out
}

// HistoryEntry is an immutable audit record appended on every successful
// fire. Entries are kept in append order.
type HistoryEntry struct {
	When    time.Time `json:"when"`
	Message string    `json:"message"`
	Action  string    `json:"action"`
	Who     string    `json:"who"`
}

// Activity is a persisted instance of a design. Its state is a set of tags,
// not a single value; an instance may carry multiple orthogonal flags at
// once. Activities are created by firing a design's create action and
// mutated only by firing actions.
type Activity struct {
	ID       string         `json:"id,omitempty"`
	Rev      string         `json:"revisionToken,omitempty"`
	DesignID string         `json:"design"`
	State    []string       `json:"state,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Roles    Roles          `json:"roles,omitempty"`
	Links    map[string]any `json:"links,omitempty"`
	History  []HistoryEntry `json:"history,omitempty"`

	design *Design
}

// BindDesign attaches the owning design, resolved through the registry.
func (a *Activity) BindDesign(d *Design) { a.design = d }

// Design is the owning design, or nil when the reference has not been
// resolved yet.
func (a *Activity) Design() *Design { return a.design }

// IsNew reports whether the activity has been persisted yet.
func (a *Activity) IsNew() bool { return a.ID == "" }

// Action looks up an action template by id on the owning design and binds
// it to this activity. Returns nil when the design defines no such action.
func (a *Activity) Action(id string) *Action {
	if a.design == nil {
		return nil
	}
	spec := a.design.ActionSpec(id)
	if spec == nil {
		return nil
	}
	return &Action{Spec: spec, Design: a.design, Activity: a}
}

// Actions returns every action of the owning design bound to this activity.
func (a *Activity) Actions() []*Action {
	if a.design == nil {
		return nil
	}
	out := make([]*Action, 0, len(a.design.Actions))
	for i := range a.design.Actions {
		out = append(out, &Action{Spec: &a.design.Actions[i], Design: a.design, Activity: a})
	}
	return out
}

// RolesOf returns the activity-scoped roles that mention the given user.
func (a *Activity) RolesOf(userID string) []string {
	return a.Roles.Of(userID)
}

// HistoryNewestFirst returns a copy of the history sorted newest first.
// Persisted history stays in append order; this is a presentation helper.
func (a *Activity) HistoryNewestFirst() []HistoryEntry {
	out := slices.Clone(a.History)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].When.After(out[j].When)
	})
	return out
}

// Clone returns a deep copy sharing only the design reference. The fire
// protocol mutates a clone and swaps it in once persistence succeeds, so a
// failed fire never leaves a half-applied activity behind.
func (a *Activity) Clone() *Activity {
	out := &Activity{
		ID:       a.ID,
		Rev:      a.Rev,
		DesignID: a.DesignID,
		State:    slices.Clone(a.State),
		Roles:    a.Roles.clone(),
		History:  slices.Clone(a.History),
		design:   a.design,
	}
	out.Data = cloneMap(a.Data)
	out.Links = cloneMap(a.Links)
	return out
}

// Document renders the activity as a plain JSON value, the form used for
// schema validation and for injection into behavior fragments.
func (a *Activity) Document() map[string]any {
	raw, err := json.Marshal(a)
	if err != nil {
		return nil
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}
	return doc
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
