package appcontext

import (
	"context"

	"github.com/mrtrick/fireengine/pkg/identity"
)

type REQUEST_CONTEXT string

var (
	UserKey REQUEST_CONTEXT = "user"
)

// WithUser attaches the resolved caller to the request context.
func WithUser(ctx context.Context, user *identity.User) context.Context {
	return context.WithValue(ctx, UserKey, user)
}

// GetUser returns the resolved caller, or nil for anonymous requests.
func GetUser(ctx context.Context) *identity.User {
	user := ctx.Value(UserKey)
	if user == nil {
		return nil
	}
	return user.(*identity.User)
}
