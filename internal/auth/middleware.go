// middleware.go

// Authentication middleware for the REST proxy.
package auth

import (
	"context"
	"net/http"
)

// contextKey is unexported to prevent collisions with other packages using the same context.
type contextKey string

const authContextKey contextKey = "auth_context"

// WithAuthContext returns a copy of ctx carrying ac.
func WithAuthContext(ctx context.Context, ac *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey, ac)
}

// FromContext retrieves the resolved identity.
// Returns nil and false if RequireAuth hasn't run.
func FromContext(ctx context.Context) (*AuthContext, bool) {
	ac, ok := ctx.Value(authContextKey).(*AuthContext)
	return ac, ok && ac != nil
}

// RequireAuth resolves the caller and injects the AuthContext; returns 401 when no strategy succeeds.
func (res *Resolver) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, ok := res.Resolve(r)
		if !ok {
			logWarn(r, "require auth failed", "reason", "no_strategy_succeeded")
			Unauthorized(w, r, "Connect your Strava account at /auth, or pass your personal token.")
			return
		}
		logDebug(r, "request authenticated", "subject_id", ac.SubjectID, "method", ac.Method)
		next.ServeHTTP(w, r.WithContext(WithAuthContext(r.Context(), ac)))
	})
}
