package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/rvidia/server/internal/auth"
	"github.com/rvidia/server/internal/model"
)

// GoogleAuthenticator is satisfied by *auth.GoogleProvider
type GoogleAuthenticator interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (auth.GoogleProfile, error)
}

// GoogleHandler runs the Google OAuth redirect flow
type GoogleHandler struct {
	google  GoogleAuthenticator
	svc     *auth.Service
	tokens  *auth.TokenService
	cookies *auth.CookiePolicy
	log     *slog.Logger
}

// NewGoogleHandler creates a new Google handler. google may be nil when login with Google is disabled.
func NewGoogleHandler(google GoogleAuthenticator, svc *auth.Service, tokens *auth.TokenService, cookies *auth.CookiePolicy, log *slog.Logger) *GoogleHandler {
	return &GoogleHandler{google: google, svc: svc, tokens: tokens, cookies: cookies, log: log}
}

// HandleStart handles GET /api/auth/google?role=
func (h *GoogleHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	if h.google == nil {
		signInError(w, r, "google_disabled")
		return
	}

	role := model.RoleUser
	if v := r.URL.Query().Get("role"); v != "" {
		parsed, err := model.ParseRole(v)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid role. Must be user or admin")
			return
		}
		role = parsed
	}

	state, err := h.tokens.IssueState(role)
	if err != nil {
		h.log.Error("failed to issue oauth state", "error", err)
		signInError(w, r, "oauth_failed")
		return
	}
	http.Redirect(w, r, h.google.AuthCodeURL(state), http.StatusFound)
}

// HandleCallback handles GET /api/auth/google/callback
func (h *GoogleHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if h.google == nil {
		signInError(w, r, "google_disabled")
		return
	}
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		signInError(w, r, e)
		return
	}
	code := q.Get("code")
	if code == "" {
		signInError(w, r, "missing_code")
		return
	}

	role, err := h.tokens.VerifyState(q.Get("state"))
	if err != nil {
		h.log.Warn("oauth state rejected", "error", err)
		signInError(w, r, "invalid_state")
		return
	}

	profile, err := h.google.Exchange(r.Context(), code)
	if err != nil {
		h.log.Error("google exchange failed", "error", err)
		signInError(w, r, "oauth_failed")
		return
	}

	user, token, err := h.svc.LoginWithGoogle(r.Context(), profile, role)
	if err != nil {
		h.log.Error("google login failed", "error", err)
		signInError(w, r, "oauth_failed")
		return
	}

	h.cookies.Set(w, token)
	target := "/dashboard"
	if user.Role.IsAdmin() {
		target = "/admin"
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func signInError(w http.ResponseWriter, r *http.Request, code string) {
	http.Redirect(w, r, "/signin?error="+url.QueryEscape(code), http.StatusSeeOther)
}
