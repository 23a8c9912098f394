package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/vantrex/warelay/internal/domain"
)

type contextKey int

const callerKey contextKey = iota

// CallerFromContext extracts the authenticated caller, if any.
func CallerFromContext(ctx context.Context) (domain.Caller, bool) {
	caller, ok := ctx.Value(callerKey).(domain.Caller)
	return caller, ok
}

// WithCaller returns a context carrying the caller. Exposed for tests.
func WithCaller(ctx context.Context, caller domain.Caller) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// Middleware validates the bearer token and injects the caller into the
// request context.
func Middleware(cfg TokenConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				http.Error(w, `{"error":"invalid authentication token"}`, http.StatusUnauthorized)
				return
			}

			claims, err := VerifyToken(parts[1], cfg)
			if err != nil {
				http.Error(w, `{"error":"invalid authentication token"}`, http.StatusUnauthorized)
				return
			}

			caller := domain.Caller{UserID: claims.Subject, Role: claims.Role}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

// RequireRole rejects callers whose role is not in the allowed set.
func RequireRole(roles ...domain.Role) func(http.Handler) http.Handler {
	allowed := make(map[domain.Role]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := CallerFromContext(r.Context())
			if !ok {
				http.Error(w, `{"error":"invalid authentication token"}`, http.StatusUnauthorized)
				return
			}
			if _, ok := allowed[caller.Role]; !ok {
				http.Error(w, `{"error":"insufficient role"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
