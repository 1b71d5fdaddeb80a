package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/mrtrick/fireengine/pkg/engine/model"
)

// outcomeKind classifies the mutually-exclusive completion signals of a
// single handler run.
type outcomeKind int

const (
	outcomeComplete outcomeKind = iota
	outcomeError
	outcomeCancel
	outcomeTimeout
)

func (k outcomeKind) String() string {
	switch k {
	case outcomeComplete:
		return "complete"
	case outcomeError:
		return "error"
	case outcomeCancel:
		return "cancel"
	case outcomeTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

type outcome struct {
	kind    outcomeKind
	payload map[string]any // complete payload: inputs or outputs
	err     error
}

// oncefirst delivers exactly one outcome per handler run: the first of
// {complete, error, cancel, timeout} to resolve wins, and every later
// signal is handed to the late callback and dropped. This is the core
// ordering guarantee of the fire protocol.
type oncefirst struct {
	once sync.Once
	ch   chan outcome
	late func(outcome)
}

func newOncefirst(late func(outcome)) *oncefirst {
	return &oncefirst{ch: make(chan outcome, 1), late: late}
}

func (o *oncefirst) resolve(out outcome) {
	delivered := false
	o.once.Do(func() {
		o.ch <- out
		delivered = true
	})
	if !delivered && o.late != nil {
		o.late(out)
	}
}

// wait blocks until the run resolves. If the deadline elapses first, the
// run is resolved with onTimeout; a real completion that lost the race is
// then reported late like any other stale signal.
func (o *oncefirst) wait(deadline <-chan time.Time, onTimeout outcome) outcome {
	select {
	case out := <-o.ch:
		return out
	case <-deadline:
		o.resolve(onTimeout)
		return <-o.ch
	}
}

// Outputs is what a fire fragment may hand back through complete(...).
// Every field is optional; zero values leave the activity untouched.
type Outputs struct {
	// To narrows the states granted on success. Must be a subset of the
	// action's declared to set.
	To []string
	// Data, Links and Roles replace the activity's current values when set.
	Data  map[string]any
	Links map[string]any
	Roles model.Roles
	// Message overrides the audit message.
	Message string
	// ID names the new activity on create; ignored otherwise.
	ID string

	hasTo bool
}

func parseOutputs(raw map[string]any) (Outputs, error) {
	var out Outputs
	for key, value := range raw {
		if value == nil {
			continue
		}
		var err error
		switch key {
		case "to":
			out.To, err = toStringList(value)
			out.hasTo = err == nil
		case "data":
			out.Data, err = toObject(value)
		case "links":
			out.Links, err = toObject(value)
		case "roles":
			out.Roles, err = toRoles(value)
		case "message":
			s, ok := value.(string)
			if !ok {
				err = fmt.Errorf("expected string, got %T", value)
			}
			out.Message = s
		case "id":
			s, ok := value.(string)
			if !ok {
				err = fmt.Errorf("expected string, got %T", value)
			}
			out.ID = s
		}
		if err != nil {
			return Outputs{}, fmt.Errorf("output %q: %w", key, err)
		}
	}
	return out, nil
}

func toStringList(v any) ([]string, error) {
	switch t := v.(type) {
	case []string:
		return t, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected array of strings, got %T", v)
	}
}

func toObject(v any) (map[string]any, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected object, got %T", v)
	}
	return obj, nil
}

func toRoles(v any) (model.Roles, error) {
	obj, err := toObject(v)
	if err != nil {
		return nil, err
	}
	roles := make(model.Roles, len(obj))
	for role, users := range obj {
		list, err := toStringList(users)
		if err != nil {
			return nil, fmt.Errorf("role %q: %w", role, err)
		}
		roles[role] = list
	}
	return roles, nil
}
