package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/MrEthical07/rentauth"
)

// Authorizer is the part of *rentauth.Engine the guards need.
type Authorizer interface {
	Authorize(ctx context.Context, accessToken, permission string) (string, error)
}

type userIDContextKey struct{}

// UserIDFromContext returns the user a guard authorized for this request.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDContextKey{}).(string)
	return id, ok && id != ""
}

// Guard requires a bearer token granting permission.
func Guard(engine Authorizer, permission string) func(http.Handler) http.Handler {
	return RequireAll(engine, permission)
}

// RequireAll requires a bearer token granting every one of permissions. An
// empty list is a configuration error and rejects every request.
func RequireAll(engine Authorizer, permissions ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil || len(permissions) == 0 {
				reject(w, rentauth.ErrEngineNotReady)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			var userID string
			for _, perm := range permissions {
				id, err := engine.Authorize(r.Context(), token, perm)
				if err != nil {
					reject(w, err)
					return
				}
				userID = id
			}

			ctx := context.WithValue(r.Context(), userIDContextKey{}, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func reject(w http.ResponseWriter, err error) {
	status := rentauth.StatusCode(err)
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	http.Error(w, http.StatusText(status), status)
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
