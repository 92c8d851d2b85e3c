package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rvidia/server/internal/auth"
	"github.com/rvidia/server/internal/model"
)

const maxBodyBytes = 1 << 20

// userResponse is the user object in API responses
type userResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

func toUserResponse(u model.User) userResponse {
	return userResponse{
		ID:       u.ID.String(),
		Email:    u.Email,
		Username: u.Username,
		Name:     u.Name,
		Role:     string(u.Role),
	}
}

func payloadUserResponse(p *auth.Payload) userResponse {
	return userResponse{
		ID:       p.UserID,
		Email:    p.Email,
		Username: p.Username,
		Name:     p.Name,
		Role:     string(p.Role),
	}
}

// respondJSON sends v with the given status
func respondJSON(w http.ResponseWriter, log *slog.Logger, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("failed to encode response", "error", err)
	}
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := map[string]string{"error": message}
	_ = json.NewEncoder(w).Encode(response)
}

// decodeJSON reads a JSON body into dst. An empty body is an error.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return err
	}
	return nil
}

// inputMessage strips the sentinel prefix from an auth.ErrInvalidInput error ("invalid input: x" -> "x")
func inputMessage(err error) string {
	return strings.TrimPrefix(err.Error(), auth.ErrInvalidInput.Error()+": ")
}
