package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/MrEthical07/authcore"
)

// UserLoader resolves the identity behind validated claims.
type UserLoader interface {
	Validator
	CurrentUser(ctx context.Context, userID string) (*authcore.User, error)
}

type userContextKey struct{}

// UserFromContext returns the identity injected by RequireUser.
func UserFromContext(ctx context.Context) (*authcore.User, bool) {
	u, ok := ctx.Value(userContextKey{}).(*authcore.User)
	return u, ok
}

// RequireUser is Guard followed by a store lookup. A token whose identity no
// longer exists is rejected with 401; store failures answer 503.
func RequireUser(engine UserLoader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			claims, ok := authenticate(engine, r)
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			user, err := engine.CurrentUser(r.Context(), claims.UserID)
			switch {
			case errors.Is(err, authcore.ErrNotFound):
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			case err != nil:
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				return
			}
			ctx := WithClaims(r.Context(), claims)
			ctx = context.WithValue(ctx, userContextKey{}, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
