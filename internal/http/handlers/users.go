package handlers

import (
	"log/slog"
	"net/http"

	"github.com/rvidia/server/internal/auth"
	"github.com/rvidia/server/internal/logger"
	"github.com/rvidia/server/internal/middleware"
)

// UsersHandler serves the admin user-management endpoints. Admin role is enforced by the gate.
type UsersHandler struct {
	svc *auth.Service
	log *slog.Logger
}

// NewUsersHandler creates a new users handler
func NewUsersHandler(svc *auth.Service, log *slog.Logger) *UsersHandler {
	return &UsersHandler{svc: svc, log: log}
}

type createUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

// HandleList handles GET /api/users
func (h *UsersHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.ListUsers(r.Context())
	if err != nil {
		h.log.Error("list users failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to list users")
		return
	}
	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toUserResponse(u))
	}
	respondJSON(w, h.log, http.StatusOK, map[string]any{"users": out})
}

// HandleCreate handles POST /api/users/create
func (h *UsersHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.svc.CreateUser(r.Context(), auth.SignUpInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Role:     req.Role,
	})
	if err != nil {
		respondAccountError(w, h.log, err, "Failed to create user account")
		return
	}

	if admin, ok := middleware.PayloadFromContext(r.Context()); ok {
		h.log.Info("user created by admin", "admin_id", admin.UserID, "user_id", user.ID, "email", logger.MaskEmail(user.Email), "role", user.Role)
	}
	respondJSON(w, h.log, http.StatusCreated, map[string]any{"success": true, "user": toUserResponse(user)})
}
