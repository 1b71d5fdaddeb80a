// Package identity resolves callers into users. The engine never
// authenticates; it only consumes the user object produced here.
package identity

import (
	"fmt"
	"slices"

	"github.com/golang-jwt/jwt/v5"
)

// User is an authenticated caller. Roles are the user's intrinsic,
// system-wide roles; activity-scoped roles are granted on the activity
// itself and combined with these during rule evaluation.
type User struct {
	ID    string   `json:"id"`
	Roles []string `json:"roles"`
}

func (u *User) HasRole(role string) bool {
	return u != nil && slices.Contains(u.Roles, role)
}

// TokenVerifier resolves signed bearer tokens into users.
type TokenVerifier struct {
	secret []byte
}

func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// Verify parses an HS256 token carrying "sub" and "roles" claims.
func (v *TokenVerifier) Verify(tokenString string) (*User, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type %T", token.Claims)
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	user := User{ID: sub}
	if rawRoles, ok := claims["roles"].([]any); ok {
		for _, r := range rawRoles {
			if role, ok := r.(string); ok {
				user.Roles = append(user.Roles, role)
			}
		}
	}
	return &user, nil
}

// Sign issues a token for the given user. Used by tooling and tests;
// production deployments are expected to have an external issuer.
func (v *TokenVerifier) Sign(user *User) (string, error) {
	roles := make([]any, 0, len(user.Roles))
	for _, r := range user.Roles {
		roles = append(roles, r)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   user.ID,
		"roles": roles,
	})
	return token.SignedString(v.secret)
}
