package http

import (
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rvidia/server/internal/auth"
	"github.com/rvidia/server/internal/http/handlers"
	"github.com/rvidia/server/internal/middleware"
)

// Deps are the handlers and session collaborators the router wires together
type Deps struct {
	Auth          *handlers.AuthHandler
	OTP           *handlers.OTPHandler
	PasswordReset *handlers.PasswordResetHandler
	Users         *handlers.UsersHandler
	Google        *handlers.GoogleHandler

	Tokens  middleware.TokenVerifier
	Cookies *auth.CookiePolicy
	Log     *slog.Logger
}

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(d.Log))
	r.Use(chimw.Recoverer)
	r.Use(middleware.Gate(d.Tokens, d.Cookies, d.Log))

	// per-IP limits: credentials 10/min, OTP send 10 and verify 20 per 10 minutes
	credentialLimit := middleware.RateLimitMiddleware(middleware.NewRateLimiter(time.Minute, 10), middleware.GetIPKey)
	sendOTPLimit := middleware.RateLimitMiddleware(middleware.NewRateLimiter(10*time.Minute, 10), middleware.GetIPKey)
	verifyOTPLimit := middleware.RateLimitMiddleware(middleware.NewRateLimiter(10*time.Minute, 20), middleware.GetIPKey)

	r.Get("/health", handlers.NewHealthHandler().ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.With(credentialLimit).Post("/signup", d.Auth.HandleSignUp)
		r.With(credentialLimit).Post("/signin", d.Auth.HandleSignIn)

		r.Get("/auth", d.Auth.HandleSession)
		r.Delete("/auth", d.Auth.HandleSignOut)
		r.Get("/auth/google", d.Google.HandleStart)
		r.Get("/auth/google/callback", d.Google.HandleCallback)
		r.Get("/clear-auth", d.Auth.HandleClearAuth)

		r.Post("/check-username", d.Auth.HandleCheckUsername)
		r.Post("/check-email", d.Auth.HandleCheckEmail)

		r.With(sendOTPLimit).Post("/send-otp", d.OTP.HandleSendOTP)
		r.With(verifyOTPLimit).Post("/verify-otp", d.OTP.HandleVerifyOTP)

		r.Route("/password-reset", func(r chi.Router) {
			r.Use(credentialLimit)
			r.Post("/create-token", d.PasswordReset.HandleCreateToken)
			r.Post("/reset", d.PasswordReset.HandleReset)
		})

		// gated: admin only
		r.Get("/users", d.Users.HandleList)
		r.Post("/users/create", d.Users.HandleCreate)
	})

	// gated
	r.Get("/dashboard", d.Auth.HandleDashboard)
	r.Get("/admin", d.Auth.HandleDashboard)

	return r
}
