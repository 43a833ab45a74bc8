// Package api implements the Salesboard REST API using chi.
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/starford/salesboard/internal/models"
)

// Auth modes.
const (
	AuthDisabled = "disabled"
	AuthSession  = "session"
)

// Resolver turns a session token into a user.
type Resolver interface {
	Resolve(ctx context.Context, token string) (*models.User, error)
}

type ctxKey int

const (
	userKey ctxKey = iota
	tokenKey
)

// UserFrom returns the signed-in user of the request, or nil.
func UserFrom(ctx context.Context) *models.User {
	u, _ := ctx.Value(userKey).(*models.User)
	return u
}

func tokenFrom(ctx context.Context) string {
	t, _ := ctx.Value(tokenKey).(string)
	return t
}

// bearerToken reads "Authorization: Bearer <token>". EventSource and
// WebSocket clients cannot set headers, so access_token in the query is
// accepted too.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.URL.Query().Get("access_token")
}

// SessionMiddleware attaches the signed-in user to the request context.
// In disabled mode every request passes through anonymously. In session
// mode a valid session token is required.
func SessionMiddleware(mode string, resolver Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if mode != AuthSession || resolver == nil {
				next.ServeHTTP(w, r)
				return
			}
			token := bearerToken(r)
			if token == "" {
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
				return
			}
			u, err := resolver.Resolve(r.Context(), token)
			if err != nil {
				writeError(w, "resolve session", err)
				return
			}
			ctx := context.WithValue(r.Context(), userKey, u)
			ctx = context.WithValue(ctx, tokenKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
