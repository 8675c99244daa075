package middleware

import (
	"context"
	"net/http"
	"strings"

	"go-tours/utils/auth"
	"go-tours/utils/errors"
)

const TokenCookie = "jwt"

// Authenticator resolves a raw token to the caller.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (auth.Principal, error)
}

type principalKey struct{}

// Protect requires a valid token in the Authorization header or the jwt cookie
// and stores the resolved principal in the request context.
func Protect(authn Authenticator, eh *ErrorHandler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := authn.Authenticate(r.Context(), tokenFrom(r))
			if err != nil {
				eh.WriteError(w, r, err)
				return
			}
			ctx := context.WithValue(r.Context(), principalKey{}, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RestrictTo lets only the listed roles through. It must run after Protect.
func RestrictTo(eh *ErrorHandler, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok {
				eh.WriteError(w, r, errors.ErrNotLoggedIn)
				return
			}
			if !p.HasRole(roles...) {
				eh.WriteError(w, r, errors.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// PrincipalFrom returns the caller stored by Protect.
func PrincipalFrom(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(auth.Principal)
	return p, ok
}

// WithPrincipal is used by tests that bypass Protect.
func WithPrincipal(ctx context.Context, p auth.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func tokenFrom(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if c, err := r.Cookie(TokenCookie); err == nil && c.Value != "loggedout" {
		return c.Value
	}
	return ""
}
