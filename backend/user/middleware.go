package user

import (
	"context"
	"log"
	"net/http"
	"strings"

	"unilink/backend/apperr"
)

type ctxKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// IdentityFrom returns the caller placed in ctx by RequireAuth.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

// BearerToken extracts the token from an Authorization header. A bare token
// without the Bearer scheme is accepted too.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}

// RequireAuth rejects requests without a valid bearer token.
func RequireAuth(tokens *Tokens) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := BearerToken(r.Header.Get("Authorization"))
			if raw == "" {
				apperr.Write(w, "Auth", apperr.New(apperr.CodeUnauthenticated, "missing token"))
				return
			}
			id, err := tokens.Parse(raw)
			if err != nil {
				log.Printf("[Auth] Rejected token for %s %s: %v", r.Method, r.URL.Path, err)
				apperr.Write(w, "Auth", apperr.New(apperr.CodeUnauthenticated, "invalid or expired token"))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// Caller returns the authenticated identity of r. Routes behind RequireAuth
// always carry one.
func Caller(r *http.Request) Identity {
	id, _ := IdentityFrom(r.Context())
	return id
}
