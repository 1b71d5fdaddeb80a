package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/mrtrick/fireengine/pkg/engine/model"
	"github.com/mrtrick/fireengine/pkg/engine/rule"
	"github.com/mrtrick/fireengine/pkg/script"
	"github.com/mrtrick/fireengine/pkg/storage"
)

// Registry holds every loaded design for the process lifetime. It is
// constructed once at startup and passed by handle to the components that
// need lookup; designs are immutable after loading.
type Registry struct {
	designs map[string]*model.Design
	order   []string
	logger  hclog.Logger

	designSchema   *schemaValidator
	activitySchema *schemaValidator
}

// NewRegistry loads, validates and compiles every design the source
// supplies. Loading is fail-fast: a design that fails schema validation or
// whose rules and fragments do not compile aborts startup rather than
// being silently skipped.
func NewRegistry(ctx context.Context, source storage.DesignSource, rules *rule.Compiler, scripts *script.Runtime) (*Registry, error) {
	raws, err := source.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load designs: %w", err)
	}

	r := &Registry{
		designs:        make(map[string]*model.Design, len(raws)),
		logger:         hclog.Default().Named("design-registry"),
		designSchema:   newSchemaValidator(designSchema()),
		activitySchema: newSchemaValidator(activitySchema()),
	}

	for _, raw := range raws {
		doc, err := decodeJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("design is not valid JSON: %w", err)
		}
		if msgs := r.designSchema.validate(doc); len(msgs) > 0 {
			return nil, fmt.Errorf("design rejected: %w", &ValidationError{Errors: msgs})
		}

		var design model.Design
		if err := json.Unmarshal(raw, &design); err != nil {
			return nil, fmt.Errorf("failed to decode design: %w", err)
		}
		if _, dup := r.designs[design.ID]; dup {
			return nil, fmt.Errorf("duplicate design id %q", design.ID)
		}
		if err := design.Compile(rules, scripts); err != nil {
			return nil, err
		}

		r.designs[design.ID] = &design
		r.order = append(r.order, design.ID)
		r.logger.Debug("loaded design", "id", design.ID, "version", design.Version)
	}
	r.logger.Info("design registry loaded", "designs", len(r.order))
	return r, nil
}

// Get looks a design up by id.
func (r *Registry) Get(id string) (*model.Design, error) {
	design, ok := r.designs[id]
	if !ok {
		return nil, &NotFoundError{Kind: "design", ID: id}
	}
	return design, nil
}

// All returns every loaded design, in load order.
func (r *Registry) All() []*model.Design {
	out := make([]*model.Design, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.designs[id])
	}
	return out
}

// Action fetches a design action by name, eg the create action used to
// instantiate new activities.
func (r *Registry) Action(designID string, name string) (*model.Action, error) {
	design, err := r.Get(designID)
	if err != nil {
		return nil, err
	}
	action, err := design.Action(name)
	if err != nil {
		return nil, &NotFoundError{Kind: "design action", ID: designID + "/" + name}
	}
	return action, nil
}

// Resolve binds the activity to its owning design. An unresolvable design
// reference is a validation error, not a crash.
func (r *Registry) Resolve(activity *model.Activity) error {
	design, ok := r.designs[activity.DesignID]
	if !ok {
		return &ValidationError{Errors: []string{
			fmt.Sprintf("design %q does not exist", activity.DesignID),
		}}
	}
	activity.BindDesign(design)
	return nil
}

// ValidateActivity checks the activity document against its schema and
// cross-checks that the design reference resolves to a loaded design.
func (r *Registry) ValidateActivity(activity *model.Activity) error {
	msgs := r.activitySchema.validate(activity.Document())
	if _, ok := r.designs[activity.DesignID]; !ok {
		msgs = append(msgs, fmt.Sprintf("design %q does not exist", activity.DesignID))
	}
	if len(msgs) > 0 {
		return &ValidationError{Errors: msgs}
	}
	return nil
}
