package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/MrEthical07/authcore"
)

// AccessCookie is the cookie carrying the access token for browser clients.
const AccessCookie = "access_token"

// Validator verifies access tokens. *authcore.Engine implements it.
type Validator interface {
	ValidateAccess(token string) (*authcore.AccessClaims, error)
}

type claimsContextKey struct{}

// ClaimsFromContext returns the claims injected by a guard.
func ClaimsFromContext(ctx context.Context) (*authcore.AccessClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*authcore.AccessClaims)
	return claims, ok
}

// WithClaims returns ctx carrying claims.
func WithClaims(ctx context.Context, claims *authcore.AccessClaims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// Guard rejects requests without a valid access token with 401.
func Guard(engine Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := authenticate(engine, r)
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func authenticate(engine Validator, r *http.Request) (*authcore.AccessClaims, bool) {
	if engine == nil {
		return nil, false
	}
	token, ok := TokenFromRequest(r)
	if !ok {
		return nil, false
	}
	claims, err := engine.ValidateAccess(token)
	if err != nil {
		return nil, false
	}
	return claims, true
}

// TokenFromRequest returns the bearer token of r, or the access cookie when no
// Authorization header is present.
func TokenFromRequest(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		return bearerToken(header)
	}
	c, err := r.Cookie(AccessCookie)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

func bearerToken(value string) (string, bool) {
	scheme, token, found := strings.Cut(value, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}
