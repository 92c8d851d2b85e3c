package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rvidia/server/internal/auth"
)

type contextKey string

const payloadKey contextKey = "session"

// PublicRoutes are served without a session. "/" matches exactly; every other
// entry matches itself and anything below it.
var PublicRoutes = []string{
	"/",
	"/signin",
	"/signup",
	"/forgot-password",
	"/reset-password",
	"/health",
	"/api/auth",
	"/api/signin",
	"/api/signup",
	"/api/password-reset",
	"/api/send-otp",
	"/api/verify-otp",
	"/api/clear-auth",
	"/api/check-username",
	"/api/check-email",
}

// AdminRoutes require the admin role
var AdminRoutes = []string{
	"/admin",
	"/api/users",
}

const (
	signInPath    = "/signin"
	dashboardPath = "/dashboard"
)

// TokenVerifier is satisfied by *auth.TokenService
type TokenVerifier interface {
	Verify(token string) (*auth.Payload, error)
}

// Gate decides per request whether to serve, redirect to sign-in, or redirect to the dashboard.
// It does no I/O: the token is verified in memory and the payload is attached to the context.
func Gate(tokens TokenVerifier, cookies *auth.CookiePolicy, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if IsPublic(path) {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := cookies.Token(r)
			if !ok {
				http.Redirect(w, r, signInPath, http.StatusSeeOther)
				return
			}

			payload, err := tokens.Verify(token)
			if err != nil {
				log.Debug("session rejected", "path", path, "error", err)
				cookies.Clear(w)
				http.Redirect(w, r, signInPath, http.StatusSeeOther)
				return
			}

			if IsAdminRoute(path) && !payload.Role.IsAdmin() {
				http.Redirect(w, r, dashboardPath, http.StatusSeeOther)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithPayload(r.Context(), payload)))
		})
	}
}

// IsPublic reports whether path is served without a session
func IsPublic(path string) bool {
	for _, route := range PublicRoutes {
		if route == "/" {
			if path == "/" {
				return true
			}
			continue
		}
		if underPrefix(path, route) {
			return true
		}
	}
	return false
}

// IsAdminRoute reports whether path requires the admin role
func IsAdminRoute(path string) bool {
	for _, route := range AdminRoutes {
		if underPrefix(path, route) {
			return true
		}
	}
	return false
}

// underPrefix matches on segment boundaries: "/admin" covers "/admin/x" but not "/administrator"
func underPrefix(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// ContextWithPayload attaches a verified session to ctx
func ContextWithPayload(ctx context.Context, p *auth.Payload) context.Context {
	return context.WithValue(ctx, payloadKey, p)
}

// PayloadFromContext returns the session attached by Gate
func PayloadFromContext(ctx context.Context) (*auth.Payload, bool) {
	p, ok := ctx.Value(payloadKey).(*auth.Payload)
	return p, ok && p != nil
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := map[string]string{"error": message}
	_ = json.NewEncoder(w).Encode(response)
}
