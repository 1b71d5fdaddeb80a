// Package engine implements the activity engine: guarded transitions over
// design-driven activity instances, with per-transition behavior fragments
// and a single persistence call per fire.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/mrtrick/fireengine/pkg/engine/model"
	"github.com/mrtrick/fireengine/pkg/engine/rule"
	"github.com/mrtrick/fireengine/pkg/identity"
	"github.com/mrtrick/fireengine/pkg/storage"
)

const DefaultFireTimeout = 30 * time.Second

// Operation names for design-wide rules.
const (
	OperationRead = "read"
	OperationFire = "fire"
)

// Instance-scoped roles granted automatically on fire.
const (
	RoleCreator = "creator"
	RoleActor   = "actor"
)

type Engine struct {
	name        string
	registry    *Registry
	store       storage.ActivityStore
	fireTimeout time.Duration
	logger      hclog.Logger
}

type EngineOption = func(*Engine)

// New creates a new instance of the activity engine.
func New(options ...EngineOption) *Engine {
	name := fmt.Sprintf("fire-engine-%d", getGlobalSnowflakeIdGenerator().Generate().Int64())
	engine := Engine{
		name:        name,
		fireTimeout: DefaultFireTimeout,
		logger:      hclog.Default().Named("fire-engine"),
	}
	for _, option := range options {
		option(&engine)
	}
	return &engine
}

func WithRegistry(registry *Registry) EngineOption {
	return func(engine *Engine) { engine.registry = registry }
}

func WithStore(store storage.ActivityStore) EngineOption {
	return func(engine *Engine) { engine.store = store }
}

func WithFireTimeout(timeout time.Duration) EngineOption {
	return func(engine *Engine) { engine.fireTimeout = timeout }
}

func WithName(name string) EngineOption {
	return func(engine *Engine) { engine.name = name }
}

func WithLogger(logger hclog.Logger) EngineOption {
	return func(engine *Engine) { engine.logger = logger }
}

func (e *Engine) Name() string        { return e.name }
func (e *Engine) Registry() *Registry { return e.registry }

// Load reads an activity and binds it to its owning design.
func (e *Engine) Load(ctx context.Context, id string) (*model.Activity, error) {
	activity, err := e.store.Read(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &NotFoundError{Kind: "activity", ID: id}
		}
		return nil, err
	}
	if err := e.registry.Resolve(activity); err != nil {
		return nil, err
	}
	return activity, nil
}

// List reads activities matching the query, keeping only those the caller
// is allowed to read. Activities referencing an unknown design are logged
// and skipped rather than failing the whole listing.
func (e *Engine) List(ctx context.Context, q storage.Query, user *identity.User, vars map[string]any) ([]*model.Activity, error) {
	activities, err := e.store.List(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Activity, 0, len(activities))
	for _, activity := range activities {
		if err := e.registry.Resolve(activity); err != nil {
			e.logger.Warn("skipping activity with unresolvable design",
				"activity", activity.ID, "design", activity.DesignID)
			continue
		}
		if !e.OperationAllowed(activity, OperationRead, user, vars) {
			continue
		}
		out = append(out, activity)
	}
	return out, nil
}

// OperationAllowed evaluates the design-wide rule for an operation such as
// "read" or "fire". No rule means allowed; a rule that errors denies.
func (e *Engine) OperationAllowed(activity *model.Activity, op string, user *identity.User, vars map[string]any) bool {
	design := activity.Design()
	if design == nil {
		return false
	}
	p := design.OperationRule(op)
	if p == nil {
		return true
	}
	ok, err := p(e.ruleContext(activity, nil, user, vars))
	if err != nil {
		e.logger.Error("uncaught error in rule handler",
			"design", design.ID, "operation", op, "error", err)
		return false
	}
	return ok
}

// Allowed reports whether the action is permitted to be fired, in order:
// the design-wide fire rule, then state membership, then the action's own
// allowed rule. State checks run before the possibly scripted rule.
func (e *Engine) Allowed(action *model.Action, user *identity.User, vars map[string]any) bool {
	activity := action.Activity

	if !e.OperationAllowed(activity, OperationFire, user, vars) {
		return false
	}
	if !model.ContainsAll(activity.State, action.Spec.From) {
		return false
	}
	if model.Intersects(activity.State, action.Spec.NotFrom) {
		return false
	}

	p := action.Spec.AllowedRule()
	if p == nil {
		return true
	}
	ok, err := p(e.ruleContext(activity, action, user, vars))
	if err != nil {
		e.logger.Error("uncaught error in allowed handler",
			"action", action.FullID(), "error", err)
		return false
	}
	return ok
}

// AllowedActions filters the activity's actions down to those the caller
// may fire.
func (e *Engine) AllowedActions(activity *model.Activity, user *identity.User, vars map[string]any) []*model.Action {
	var out []*model.Action
	for _, action := range activity.Actions() {
		if e.Allowed(action, user, vars) {
			out = append(out, action)
		}
	}
	return out
}

// FireOptions tune a single fire. The zero value uses the engine defaults.
type FireOptions struct {
	// Timeout bounds the handler execution of this fire; 0 means the
	// engine default, negative disables the deadline.
	Timeout time.Duration
	// Vars is extra scope made visible to rules and fragments.
	Vars map[string]any
}

// Fire executes the action against its bound activity: guard check, the
// optional prepare fragment, the fire fragment, state recomputation, audit
// logging, and exactly one persistence call. Only the first completion of
// each handler run is honored; everything after the first signal, or after
// the deadline, is discarded.
func (e *Engine) Fire(ctx context.Context, action *model.Action, user *identity.User, inputs map[string]any, opts FireOptions) (*model.Activity, error) {
	if !e.Allowed(action, user, opts.Vars) {
		if user == nil {
			return nil, &UnauthorizedError{Message: fmt.Sprintf("action %q requires authentication", action.FullID())}
		}
		return nil, &ForbiddenError{Message: fmt.Sprintf("action %q forbidden", action.FullID())}
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = e.fireTimeout
	}
	var deadline <-chan time.Time // nil channel: no deadline
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	isNew := action.Activity.IsNew()

	inputs, err := e.runPrepare(action, user, inputs, opts.Vars, deadline)
	if err != nil {
		return nil, err
	}

	out, err := e.runFire(action, user, inputs, opts.Vars, deadline)
	if err != nil {
		return nil, err
	}

	return e.apply(ctx, action, user, out, isNew)
}

// runPrepare runs the prepare fragment, returning the inputs it completed
// with. A missing fragment completes immediately with the caller's inputs.
func (e *Engine) runPrepare(action *model.Action, user *identity.User, inputs map[string]any, vars map[string]any, deadline <-chan time.Time) (map[string]any, error) {
	if inputs == nil {
		inputs = map[string]any{}
	}
	handler := action.Spec.PrepareHandler()
	if handler == nil {
		return inputs, nil
	}

	res := newOncefirst(e.lateSignal(action, "prepare"))
	scope := e.handlerScope(action, user, inputs, vars, "prepare")
	scope["complete"] = func(in map[string]any) {
		if in == nil {
			in = map[string]any{}
		}
		res.resolve(outcome{kind: outcomeComplete, payload: in})
	}
	scope["cancel"] = func(message string) {
		if message == "" {
			message = "Action cancelled"
		}
		res.resolve(outcome{kind: outcomeCancel, err: &HandlerError{Message: message, Status: 400}})
	}
	scope["error"] = func(args ...any) {
		res.resolve(outcome{kind: outcomeError, err: normalizeHandlerError(args, "Prepare error")})
	}

	go func() {
		if _, err := handler.Run(scope); err != nil {
			res.resolve(outcome{kind: outcomeError, err: &HandlerError{
				Message: "Uncaught exception in prepare handler", Inner: err,
			}})
		}
	}()

	out := res.wait(deadline, outcome{kind: outcomeTimeout, err: &TimeoutError{Message: "Prepare handler timed out"}})
	if out.kind != outcomeComplete {
		return nil, out.err
	}
	return out.payload, nil
}

// runFire runs the fire fragment and returns its outputs. A missing
// fragment behaves as an immediate complete({}).
func (e *Engine) runFire(action *model.Action, user *identity.User, inputs map[string]any, vars map[string]any, deadline <-chan time.Time) (Outputs, error) {
	res := newOncefirst(e.lateSignal(action, "fire"))

	handler := action.Spec.FireHandler()
	if handler == nil {
		res.resolve(outcome{kind: outcomeComplete, payload: map[string]any{}})
	} else {
		scope := e.handlerScope(action, user, inputs, vars, "fire")
		scope["complete"] = func(outputs map[string]any) {
			res.resolve(outcome{kind: outcomeComplete, payload: outputs})
		}
		scope["error"] = func(args ...any) {
			res.resolve(outcome{kind: outcomeError, err: normalizeHandlerError(args, "Firing error")})
		}
		go func() {
			if _, err := handler.Run(scope); err != nil {
				res.resolve(outcome{kind: outcomeError, err: &HandlerError{
					Message: "Uncaught exception in fire handler", Inner: err,
				}})
			}
		}()
	}

	out := res.wait(deadline, outcome{kind: outcomeTimeout, err: &TimeoutError{Message: "Fire handler timed out"}})
	if out.kind != outcomeComplete {
		return Outputs{}, out.err
	}
	outputs, err := parseOutputs(out.payload)
	if err != nil {
		return Outputs{}, &HandlerError{Message: "Fire handler returned invalid outputs", Inner: err}
	}
	return outputs, nil
}

// apply recomputes the activity from the fire outputs, appends the audit
// entry, validates, and makes the single persistence call. On any failure
// before the write the bound activity is left untouched.
func (e *Engine) apply(ctx context.Context, action *model.Action, user *identity.User, out Outputs, isNew bool) (*model.Activity, error) {
	spec := action.Spec
	activity := action.Activity

	to := spec.To
	if out.hasTo {
		if !model.IsSubset(out.To, spec.To) {
			return nil, &HandlerError{
				Message: fmt.Sprintf("Fire handler set invalid 'to' states: %v", out.To),
			}
		}
		to = out.To
	}

	work := activity.Clone()
	work.State = model.Union(model.Difference(work.State, spec.From), to)
	if out.Data != nil {
		work.Data = out.Data
	}
	if out.Links != nil {
		work.Links = out.Links
	}
	if out.Roles != nil {
		work.Roles = out.Roles
	}

	message := out.Message
	if message == "" {
		if isNew {
			message = "Created"
		} else {
			message = "Fired action " + action.Name()
		}
	}
	who := ""
	if user != nil {
		who = user.ID
	}
	work.History = append(work.History, model.HistoryEntry{
		When:    time.Now().UTC(),
		Message: message,
		Action:  spec.ID,
		Who:     who,
	})

	if isNew && out.ID != "" {
		work.ID = out.ID
	}
	if user != nil {
		if work.Roles == nil {
			work.Roles = model.Roles{}
		}
		if isNew {
			work.Roles.Grant(RoleCreator, user.ID)
		}
		work.Roles.Grant(RoleActor, user.ID)
	}

	if err := e.registry.ValidateActivity(work); err != nil {
		return nil, err
	}

	id, rev, err := e.store.Write(ctx, work)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, &ConflictError{ID: work.ID}
		}
		return nil, err
	}
	work.ID, work.Rev = id, rev

	e.logger.Info("fired action", "action", action.FullID(), "activity", id, "state", work.State, "who", who)
	*activity = *work
	return activity, nil
}

func (e *Engine) ruleContext(activity *model.Activity, action *model.Action, user *identity.User, vars map[string]any) rule.Context {
	ctx := rule.Context{User: user}
	if user != nil && activity != nil {
		ctx.ActivityRoles = activity.RolesOf(user.ID)
	}
	scope := make(map[string]any, len(vars)+2)
	for k, v := range vars {
		scope[k] = v
	}
	if activity != nil {
		scope["activity"] = activity.Document()
	}
	if action != nil {
		scope["action"] = actionInfo(action)
	}
	ctx.Vars = scope
	return ctx
}

// handlerScope builds the injected scope a behavior fragment executes in.
func (e *Engine) handlerScope(action *model.Action, user *identity.User, inputs map[string]any, vars map[string]any, phase string) map[string]any {
	scope := make(map[string]any, len(vars)+5)
	for k, v := range vars {
		scope[k] = v
	}
	scope["inputs"] = inputs
	scope["activity"] = action.Activity.Document()
	scope["action"] = actionInfo(action)
	if user != nil {
		scope["user"] = map[string]any{"id": user.ID, "roles": user.Roles}
	}
	scope["console"] = e.console(action.FullID() + " : " + phase)
	return scope
}

func actionInfo(action *model.Action) map[string]any {
	return map[string]any{
		"id":      action.ID(),
		"name":    action.Name(),
		"from":    action.Spec.From,
		"notfrom": action.Spec.NotFrom,
		"to":      action.Spec.To,
	}
}

// console gives fragments a familiar logging surface, prefixed with the
// action and phase they run in.
func (e *Engine) console(prefix string) map[string]any {
	logger := e.logger.With("handler", prefix)
	return map[string]any{
		"log":   func(args ...any) { logger.Info(fmt.Sprint(args...)) },
		"info":  func(args ...any) { logger.Info(fmt.Sprint(args...)) },
		"warn":  func(args ...any) { logger.Warn(fmt.Sprint(args...)) },
		"error": func(args ...any) { logger.Error(fmt.Sprint(args...)) },
		"debug": func(args ...any) { logger.Debug(fmt.Sprint(args...)) },
	}
}

func (e *Engine) lateSignal(action *model.Action, phase string) func(outcome) {
	return func(o outcome) {
		e.logger.Warn("handler signal arrived after outcome was settled, discarding",
			"action", action.FullID(), "phase", phase, "signal", o.kind.String())
	}
}

// normalizeHandlerError turns the arguments of an error(...) callback into
// a typed error. Fragments may pass a message, an optional status code and
// an optional inner detail.
func normalizeHandlerError(args []any, fallback string) error {
	he := &HandlerError{Message: fallback}
	if len(args) > 0 && args[0] != nil {
		switch m := args[0].(type) {
		case string:
			he.Message = m
		case error:
			he.Inner = m
		default:
			he.Message = fmt.Sprint(m)
		}
	}
	if len(args) > 1 {
		switch s := args[1].(type) {
		case int64:
			he.Status = int(s)
		case float64:
			he.Status = int(s)
		}
	}
	if len(args) > 2 && args[2] != nil && he.Inner == nil {
		he.Inner = fmt.Errorf("%v", args[2])
	}
	return he
}
