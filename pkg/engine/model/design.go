// Package model holds the persisted document types: designs, activities,
// actions and history entries. The document shapes here are the boundary
// contract other collaborators must honor.
package model

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mrtrick/fireengine/pkg/engine/rule"
	"github.com/mrtrick/fireengine/pkg/script"
)

// CreateActionID is the id of the special action used to instantiate
// new activities from a design.
const CreateActionID = "create"

// Design is an immutable activity template: the states an instance may
// carry, the actions that move it between them, and the rules attached to
// design-wide operations. Designs are loaded once at startup and never
// mutated afterwards.
type Design struct {
	ID      string                     `json:"id"`
	Name    string                     `json:"name"`
	Version int                        `json:"version"`
	States  []string                   `json:"states"`
	Create  ActionSpec                 `json:"create"`
	Actions []ActionSpec               `json:"actions"`
	Allowed map[string]json.RawMessage `json:"allowed,omitempty"`

	// compiled design-wide operation rules, keyed by operation name
	// ("read", "fire"). Populated by Compile.
	operationRules map[string]rule.Predicate
}

// ActionSpec is an action template within a design: either the special
// create entry or a member of the actions list.
type ActionSpec struct {
	ID      string          `json:"id"`
	Name    string          `json:"name,omitempty"`
	From    []string        `json:"from,omitempty"`
	NotFrom []string        `json:"notfrom,omitempty"`
	To      []string        `json:"to,omitempty"`
	Allowed json.RawMessage `json:"allowed,omitempty"`
	Prepare string          `json:"prepare,omitempty"`
	Fire    string          `json:"fire,omitempty"`

	allowed rule.Predicate
	prepare *script.Handler
	fire    *script.Handler
}

// DisplayName is the action name, defaulted from the id when absent.
func (s *ActionSpec) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return ucFirst(s.ID)
}

// AllowedRule is the compiled action rule; nil means always allowed.
func (s *ActionSpec) AllowedRule() rule.Predicate { return s.allowed }

// PrepareHandler is the compiled prepare fragment, nil when absent.
func (s *ActionSpec) PrepareHandler() *script.Handler { return s.prepare }

// FireHandler is the compiled fire fragment, nil when absent.
func (s *ActionSpec) FireHandler() *script.Handler { return s.fire }

func (s *ActionSpec) compile(rules *rule.Compiler, scripts *script.Runtime) error {
	var err error
	if s.allowed, err = rules.Compile(s.Allowed); err != nil {
		return fmt.Errorf("allowed rule of action %q: %w", s.ID, err)
	}
	if s.Prepare != "" {
		if s.prepare, err = scripts.Compile(s.Prepare); err != nil {
			return fmt.Errorf("prepare fragment of action %q: %w", s.ID, err)
		}
	}
	if s.Fire != "" {
		if s.fire, err = scripts.Compile(s.Fire); err != nil {
			return fmt.Errorf("fire fragment of action %q: %w", s.ID, err)
		}
	}
	return nil
}

// Compile resolves every rule spec and behavior fragment in the design into
// its executable form. Called once, at load time; a compile failure makes
// the whole design unusable.
func (d *Design) Compile(rules *rule.Compiler, scripts *script.Runtime) error {
	d.Create.ID = CreateActionID
	if err := d.Create.compile(rules, scripts); err != nil {
		return fmt.Errorf("design %q: %w", d.ID, err)
	}
	for i := range d.Actions {
		if err := d.Actions[i].compile(rules, scripts); err != nil {
			return fmt.Errorf("design %q: %w", d.ID, err)
		}
	}
	d.operationRules = make(map[string]rule.Predicate, len(d.Allowed))
	for op, raw := range d.Allowed {
		p, err := rules.Compile(raw)
		if err != nil {
			return fmt.Errorf("design %q: allowed rule for operation %q: %w", d.ID, op, err)
		}
		d.operationRules[op] = p
	}
	return nil
}

// OperationRule is the compiled design-wide rule for an operation such as
// "read" or "fire". Nil means the operation carries no design-wide rule.
func (d *Design) OperationRule(op string) rule.Predicate {
	return d.operationRules[op]
}

// ActionSpec looks up an action template by id within the actions list.
// The create entry is not part of the list; use Action(CreateActionID).
func (d *Design) ActionSpec(id string) *ActionSpec {
	for i := range d.Actions {
		if d.Actions[i].ID == id {
			return &d.Actions[i]
		}
	}
	return nil
}

// Action fetches a design action by name, bound to a fresh activity
// referencing this design. At this time the only design action is "create".
func (d *Design) Action(name string) (*Action, error) {
	if name != CreateActionID {
		return nil, fmt.Errorf("design actions other than %q are not supported", CreateActionID)
	}
	activity := &Activity{DesignID: d.ID}
	activity.BindDesign(d)
	return &Action{Spec: &d.Create, Design: d, Activity: activity}, nil
}

// Graph builds a graphviz representation of the design. To convert to an
// image, pipe the output through a graphviz tool, eg:
//
//	echo output | dot -Tpng > dot.png
func (d *Design) Graph() string {
	var o []string
	o = append(o,
		"digraph "+d.ID+" {",
		"overlap=false;",
		"rankdir=LR;",
	)
	addNode := func(state string) {
		o = append(o, state+" [ label=\""+ucFirst(state)+"\" ];")
	}

	// Start / end states
	start := d.Create.To
	o = append(o, "\nnode [shape = doublecircle, width=1.5,height=1.5];")
	for _, s := range start {
		addNode(s)
	}
	if ContainsState(d.States, "closed") && !ContainsState(start, "closed") {
		addNode("closed")
	}

	// Other states
	o = append(o, "\nnode [shape = circle];")
	for _, s := range d.States {
		if ContainsState(start, s) || s == "closed" {
			continue
		}
		addNode(s)
	}

	// Actions
	o = append(o, "\nnode [shape = box, width=0, height=0];")
	for i := range d.Actions {
		a := &d.Actions[i]
		o = append(o, a.ID+" [ label=\""+a.DisplayName()+"\"];")
	}

	// Connections between states and actions
	o = append(o, "")
	for i := range d.Actions {
		a := &d.Actions[i]
		for _, from := range a.From {
			o = append(o, from+"->"+a.ID+";")
		}
		for _, to := range a.To {
			o = append(o, a.ID+"->"+to+";")
		}
	}

	o = append(o, "}\n")
	return strings.Join(o, "\n")
}

func ucFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
