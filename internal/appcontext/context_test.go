package appcontext

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mrtrick/fireengine/pkg/identity"
)

func TestUserContext(t *testing.T) {
	user := &identity.User{ID: "alice", Roles: []string{"staff"}}
	ctx := WithUser(context.Background(), user)

	assert.Equal(t, user, GetUser(ctx))
	assert.Nil(t, GetUser(context.Background()), "no user means anonymous")
}
