package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rvidia/server/internal/auth"
	"github.com/rvidia/server/internal/logger"
	"github.com/rvidia/server/internal/middleware"
)

// AuthHandler handles sign-up, sign-in and session endpoints
type AuthHandler struct {
	svc     *auth.Service
	tokens  *auth.TokenService
	cookies *auth.CookiePolicy
	log     *slog.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(svc *auth.Service, tokens *auth.TokenService, cookies *auth.CookiePolicy, log *slog.Logger) *AuthHandler {
	return &AuthHandler{svc: svc, tokens: tokens, cookies: cookies, log: log}
}

// signUpRequest is the request body for POST /api/signup
type signUpRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// signInRequest is the request body for POST /api/signin. Email is accepted as an alias of identifier.
type signInRequest struct {
	Identifier string `json:"identifier"`
	Email      string `json:"email"`
	Password   string `json:"password"`
}

type sessionResponse struct {
	Success bool         `json:"success"`
	User    userResponse `json:"user"`
}

// HandleSignUp handles POST /api/signup
func (h *AuthHandler) HandleSignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, token, err := h.svc.SignUp(r.Context(), auth.SignUpInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		respondAccountError(w, h.log, err, "User creation failed")
		return
	}

	h.cookies.Set(w, token)
	respondJSON(w, h.log, http.StatusOK, sessionResponse{Success: true, User: toUserResponse(user)})
}

// HandleSignIn handles POST /api/signin
func (h *AuthHandler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	identifier := req.Identifier
	if strings.TrimSpace(identifier) == "" {
		identifier = req.Email
	}

	user, token, err := h.svc.SignIn(r.Context(), identifier, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			h.log.Info("sign-in rejected", "identifier", maskIdentifier(identifier))
		}
		respondAccountError(w, h.log, err, "Authentication failed")
		return
	}

	h.cookies.Set(w, token)
	respondJSON(w, h.log, http.StatusOK, sessionResponse{Success: true, User: toUserResponse(user)})
}

// HandleSession handles GET /api/auth. It reloads the user so role or name changes show up,
// and re-issues the cookie when the token was signed with a retired secret.
func (h *AuthHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	token, ok := h.cookies.Token(r)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "No authentication token found")
		return
	}

	payload, err := h.tokens.Verify(token)
	if err != nil {
		h.cookies.Clear(w)
		respondWithError(w, http.StatusUnauthorized, "Invalid or expired token")
		return
	}

	user, err := h.svc.CurrentUser(r.Context(), payload)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			respondWithError(w, http.StatusNotFound, "User not found")
			return
		}
		h.log.Error("session lookup failed", "user_id", payload.UserID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Authentication failed")
		return
	}

	if payload.KeyIndex > 0 {
		if fresh, err := h.tokens.IssueUser(user); err == nil {
			h.cookies.Set(w, fresh)
		} else {
			h.log.Warn("failed to re-issue token", "user_id", payload.UserID, "error", err)
		}
	}

	respondJSON(w, h.log, http.StatusOK, sessionResponse{Success: true, User: toUserResponse(user)})
}

// HandleSignOut handles DELETE /api/auth
func (h *AuthHandler) HandleSignOut(w http.ResponseWriter, _ *http.Request) {
	h.cookies.Clear(w)
	respondJSON(w, h.log, http.StatusOK, map[string]any{"success": true, "message": "Signed out successfully"})
}

// HandleClearAuth handles GET /api/clear-auth
func (h *AuthHandler) HandleClearAuth(w http.ResponseWriter, r *http.Request) {
	h.cookies.Clear(w)
	http.Redirect(w, r, "/signin", http.StatusSeeOther)
}

type usernameRequest struct {
	Username string `json:"username"`
}

type emailRequest struct {
	Email string `json:"email"`
}

// HandleCheckUsername handles POST /api/check-username
func (h *AuthHandler) HandleCheckUsername(w http.ResponseWriter, r *http.Request) {
	var req usernameRequest
	if err := decodeJSON(w, r, &req); err != nil || strings.TrimSpace(req.Username) == "" {
		respondWithError(w, http.StatusBadRequest, "Username is required")
		return
	}
	ok, err := h.svc.UsernameAvailable(r.Context(), req.Username)
	h.respondAvailability(w, ok, err, "Username already taken")
}

// HandleCheckEmail handles POST /api/check-email
func (h *AuthHandler) HandleCheckEmail(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil || strings.TrimSpace(req.Email) == "" {
		respondWithError(w, http.StatusBadRequest, "Email is required")
		return
	}
	ok, err := h.svc.EmailAvailable(r.Context(), req.Email)
	h.respondAvailability(w, ok, err, "Email already registered")
}

func (h *AuthHandler) respondAvailability(w http.ResponseWriter, ok bool, err error, takenMsg string) {
	if err != nil {
		h.log.Error("availability check failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to process request")
		return
	}
	if !ok {
		respondWithError(w, http.StatusBadRequest, takenMsg)
		return
	}
	respondJSON(w, h.log, http.StatusOK, map[string]bool{"available": true})
}

// HandleDashboard handles GET /dashboard and GET /admin: the gate has already
// verified the session, so the payload is answered without touching the database.
func (h *AuthHandler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	payload, ok := middleware.PayloadFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	respondJSON(w, h.log, http.StatusOK, map[string]any{"user": payloadUserResponse(payload)})
}

// respondAccountError maps auth.Service errors to status codes
func respondAccountError(w http.ResponseWriter, log *slog.Logger, err error, fallback string) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		respondWithError(w, http.StatusBadRequest, inputMessage(err))
	case errors.Is(err, auth.ErrInvalidRole):
		respondWithError(w, http.StatusBadRequest, "Invalid role. Must be user or admin")
	case errors.Is(err, auth.ErrInvalidCredentials):
		respondWithError(w, http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, auth.ErrUsernameTaken):
		respondWithError(w, http.StatusConflict, "Username already taken")
	case errors.Is(err, auth.ErrEmailTaken):
		respondWithError(w, http.StatusConflict, "Email already registered")
	case errors.Is(err, auth.ErrUserNotFound):
		respondWithError(w, http.StatusNotFound, "User not found")
	case errors.Is(err, auth.ErrInvalidResetToken):
		respondWithError(w, http.StatusBadRequest, "Invalid or expired token")
	default:
		log.Error(fallback, "error", err)
		respondWithError(w, http.StatusInternalServerError, fallback)
	}
}

func maskIdentifier(identifier string) string {
	if strings.Contains(identifier, "@") {
		return logger.MaskEmail(identifier)
	}
	if len(identifier) <= 2 {
		return "****"
	}
	return identifier[:2] + strings.Repeat("*", len(identifier)-2)
}
