// Package rule interprets access-control rules in a standard manner.
//
// A rule spec is compiled once into a Predicate; the predicate is then
// evaluated against a Context per request. Specs come in several shapes:
//
//   - empty            -> nil predicate, meaning "always allowed"
//   - "rolename"       -> the caller must hold that role
//   - ["a","b"]        -> the caller must hold any of those roles
//   - {"all":[...], "any":[...]} -> superset of all AND intersection with any
//   - a string containing whitespace -> a custom scripted predicate
//
// Callers must treat a nil Predicate specially: it is not a function.
package rule

import (
	"encoding/json"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mrtrick/fireengine/pkg/identity"
	"github.com/mrtrick/fireengine/pkg/script"
)

// Predicate decides whether a context is allowed. A nil Predicate means no
// rule is defined and the operation is always allowed.
type Predicate func(Context) (bool, error)

// Context is the evaluation context a predicate sees. User may be nil for
// anonymous callers; a non-nil rule then denies (fail closed).
type Context struct {
	User *identity.User

	// ActivityRoles are the roles granted to the user on the activity
	// under evaluation, already filtered to the current user.
	ActivityRoles []string

	// Vars is extra scope injected into custom scripted predicates.
	Vars map[string]any
}

// RoleSet is the combined role set: intrinsic user roles unioned with the
// user's activity-scoped roles.
func (c Context) RoleSet() []string {
	if c.User == nil {
		return nil
	}
	roles := make([]string, 0, len(c.User.Roles)+len(c.ActivityRoles))
	seen := make(map[string]struct{}, cap(roles))
	for _, r := range append(append([]string{}, c.User.Roles...), c.ActivityRoles...) {
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		roles = append(roles, r)
	}
	return roles
}

// roleSpec is the declarative object form of a rule.
type roleSpec struct {
	All []string `json:"all"`
	Any []string `json:"any"`
}

const compiledCacheSize = 256

// Compiler turns rule specs into predicates. Custom scripted predicates are
// compiled through the script runtime and cached by source.
type Compiler struct {
	scripts *script.Runtime
	cache   *lru.Cache[string, *script.Handler]
}

func NewCompiler(scripts *script.Runtime) *Compiler {
	cache, err := lru.New[string, *script.Handler](compiledCacheSize)
	if err != nil {
		panic(err)
	}
	return &Compiler{scripts: scripts, cache: cache}
}

// Compile resolves a raw JSON rule spec into a Predicate. An empty spec
// compiles to nil. A malformed spec or an uncompilable fragment is an error.
func (c *Compiler) Compile(raw json.RawMessage) (Predicate, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("malformed rule spec: %w", err)
	}

	switch spec := v.(type) {
	case nil:
		return nil, nil
	case string:
		if spec == "" {
			return nil, nil
		}
		// Strings containing whitespace are scripted predicates.
		if strings.ContainsAny(spec, " \t\n") {
			return c.compileScript(spec)
		}
		return Roles(nil, []string{spec}), nil
	case []any:
		anyOf, err := stringList(spec)
		if err != nil {
			return nil, fmt.Errorf("malformed rule spec: %w", err)
		}
		if len(anyOf) == 0 {
			return nil, nil
		}
		return Roles(nil, anyOf), nil
	case map[string]any:
		var rs roleSpec
		if err := json.Unmarshal(raw, &rs); err != nil {
			return nil, fmt.Errorf("malformed rule spec: %w", err)
		}
		if len(rs.All) == 0 && len(rs.Any) == 0 {
			return nil, nil
		}
		return Roles(rs.All, rs.Any), nil
	default:
		return nil, fmt.Errorf("malformed rule spec: unsupported type %T", v)
	}
}

// Roles builds a predicate requiring the context's combined role set to be a
// superset of all and to intersect any. Empty lists impose no requirement.
func Roles(all []string, anyOf []string) Predicate {
	return func(ctx Context) (bool, error) {
		// No user, and some role required? Short-circuit fail.
		if ctx.User == nil {
			return false, nil
		}
		roles := ctx.RoleSet()
		for _, want := range all {
			if !contains(roles, want) {
				return false, nil
			}
		}
		if len(anyOf) > 0 && !intersects(roles, anyOf) {
			return false, nil
		}
		return true, nil
	}
}

func (c *Compiler) compileScript(src string) (Predicate, error) {
	handler, ok := c.cache.Get(src)
	if !ok {
		var err error
		handler, err = c.scripts.Compile(src)
		if err != nil {
			return nil, err
		}
		c.cache.Add(src, handler)
	}

	return func(ctx Context) (bool, error) {
		scope := make(map[string]any, len(ctx.Vars)+2)
		for k, v := range ctx.Vars {
			scope[k] = v
		}
		if ctx.User != nil {
			scope["user"] = map[string]any{"id": ctx.User.ID, "roles": ctx.User.Roles}
			scope["roles"] = ctx.RoleSet()
		}
		result, err := handler.Run(scope)
		if err != nil {
			return false, err
		}
		return Truthy(result), nil
	}, nil
}

// Truthy maps an exported script value onto a boolean the way the script
// language itself would.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int64:
		return t != 0
	case float64:
		return t != 0
	default:
		return true
	}
}

func contains(set []string, want string) bool {
	for _, r := range set {
		if r == want {
			return true
		}
	}
	return false
}

func intersects(a []string, b []string) bool {
	for _, r := range b {
		if contains(a, r) {
			return true
		}
	}
	return false
}

func stringList(raw []any) ([]string, error) {
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected role name, got %T", v)
		}
		out = append(out, s)
	}
	return out, nil
}
