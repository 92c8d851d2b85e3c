package handlers

import (
	"log/slog"
	"net/http"

	"github.com/rvidia/server/internal/auth"
)

// PasswordResetHandler handles the two-step password reset
type PasswordResetHandler struct {
	svc     *auth.Service
	log     *slog.Logger
	devMode bool
}

// NewPasswordResetHandler creates a new password reset handler. In dev mode the token is echoed.
func NewPasswordResetHandler(svc *auth.Service, log *slog.Logger, devMode bool) *PasswordResetHandler {
	return &PasswordResetHandler{svc: svc, log: log, devMode: devMode}
}

type createResetTokenRequest struct {
	Email string `json:"email"`
}

type createResetTokenResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Token   string `json:"token,omitempty"`
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// HandleCreateToken handles POST /api/password-reset/create-token
func (h *PasswordResetHandler) HandleCreateToken(w http.ResponseWriter, r *http.Request) {
	var req createResetTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, err := h.svc.RequestPasswordReset(r.Context(), req.Email)
	if err != nil {
		respondAccountError(w, h.log, err, "Failed to create reset token")
		return
	}

	resp := createResetTokenResponse{Success: true, Message: "Password reset email sent"}
	if h.devMode {
		resp.Token = token
	}
	respondJSON(w, h.log, http.StatusOK, resp)
}

// HandleReset handles POST /api/password-reset/reset
func (h *PasswordResetHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.svc.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		respondAccountError(w, h.log, err, "Failed to reset password")
		return
	}
	respondJSON(w, h.log, http.StatusOK, map[string]any{"success": true, "message": "Password updated"})
}
