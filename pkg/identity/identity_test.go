package identity

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_sign_verify_round_trip(t *testing.T) {
	v := NewTokenVerifier("test-secret")
	token, err := v.Sign(&User{ID: "alice", Roles: []string{"staff", "admin"}})
	require.NoError(t, err)

	user, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.ID)
	assert.Equal(t, []string{"staff", "admin"}, user.Roles)
}

func Test_verify_rejects_a_wrong_secret(t *testing.T) {
	token, err := NewTokenVerifier("secret-a").Sign(&User{ID: "alice"})
	require.NoError(t, err)

	_, err = NewTokenVerifier("secret-b").Verify(token)
	assert.Error(t, err)
}

func Test_verify_rejects_a_token_without_subject(t *testing.T) {
	secret := "test-secret"
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"roles": []any{"staff"}})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	_, err = NewTokenVerifier(secret).Verify(signed)
	assert.Error(t, err)
}

func Test_verify_rejects_unsigned_tokens(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "alice"})
	unsigned, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewTokenVerifier("test-secret").Verify(unsigned)
	assert.Error(t, err)
}

func Test_has_role(t *testing.T) {
	user := &User{ID: "alice", Roles: []string{"staff"}}
	assert.True(t, user.HasRole("staff"))
	assert.False(t, user.HasRole("admin"))

	var nobody *User
	assert.False(t, nobody.HasRole("staff"))
}
