package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rvidia/server/internal/auth"
)

func TestRespondAccountError(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		err        error
		wantStatus int
		wantMsg    string
	}{
		{fmt.Errorf("%w: invalid email address", auth.ErrInvalidInput), http.StatusBadRequest, "invalid email address"},
		{auth.ErrInvalidRole, http.StatusBadRequest, "Invalid role. Must be user or admin"},
		{auth.ErrInvalidCredentials, http.StatusUnauthorized, "Invalid credentials"},
		{auth.ErrUsernameTaken, http.StatusConflict, "Username already taken"},
		{auth.ErrEmailTaken, http.StatusConflict, "Email already registered"},
		{auth.ErrUserNotFound, http.StatusNotFound, "User not found"},
		{auth.ErrInvalidResetToken, http.StatusBadRequest, "Invalid or expired token"},
		{errors.New("connection refused"), http.StatusInternalServerError, "fallback"},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			respondAccountError(rec, log, tt.err, "fallback")
			assert.Equal(t, tt.wantStatus, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantMsg, body["error"])
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Email string `json:"email"`
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@b.co"}`))
	require.NoError(t, decodeJSON(rec, req, &dst))
	assert.Equal(t, "a@b.co", dst.Email)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	assert.EqualError(t, decodeJSON(rec, req, &dst), "request body is empty")

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{"))
	assert.Error(t, decodeJSON(rec, req, &dst))
}

func TestMaskIdentifier(t *testing.T) {
	assert.Equal(t, "al***", maskIdentifier("alice"))
	assert.Equal(t, "****", maskIdentifier("al"))
	assert.NotContains(t, maskIdentifier("alice@example.com"), "alice@")
}
