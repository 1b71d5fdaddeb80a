package middleware

import (
	"net/http"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/mrtrick/fireengine/internal/appcontext"
	"github.com/mrtrick/fireengine/pkg/identity"
)

// Identity resolves a bearer token into a user on the request context.
// Requests without a token proceed anonymously; requests with a bad token
// are rejected so callers notice expired credentials.
func Identity(verifier *identity.TokenVerifier) func(next http.Handler) http.Handler {
	logger := hclog.Default().Named("identity")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if verifier == nil || header == "" {
				next.ServeHTTP(w, r)
				return
			}
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				http.Error(w, `{"error":{"message":"malformed authorization header","status":401}}`, http.StatusUnauthorized)
				return
			}
			user, err := verifier.Verify(token)
			if err != nil {
				logger.Warn("rejected bearer token", "error", err)
				http.Error(w, `{"error":{"message":"invalid token","status":401}}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(appcontext.WithUser(r.Context(), user)))
		})
	}
}
