package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rvidia/server/internal/logger"
	"github.com/rvidia/server/internal/mailer"
	"github.com/rvidia/server/internal/otp"
)

// OTPHandler handles email verification codes
type OTPHandler struct {
	store   *otp.Store
	limiter *otp.Limiter
	mail    mailer.Sender
	log     *slog.Logger
	devMode bool
}

// NewOTPHandler creates a new OTP handler. In dev mode the code is echoed in the response.
func NewOTPHandler(store *otp.Store, limiter *otp.Limiter, mail mailer.Sender, log *slog.Logger, devMode bool) *OTPHandler {
	return &OTPHandler{store: store, limiter: limiter, mail: mail, log: log, devMode: devMode}
}

type sendOTPRequest struct {
	Email string `json:"email"`
}

type sendOTPResponse struct {
	Message string `json:"message"`
	Email   string `json:"email"`
	OTP     string `json:"otp,omitempty"`
}

type rateLimitedResponse struct {
	Error     string `json:"error"`
	Remaining int    `json:"remaining"`
	ResetIn   int    `json:"resetIn"`
}

type verifyOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type verifyOTPResponse struct {
	Message  string `json:"message"`
	Email    string `json:"email"`
	Verified bool   `json:"verified"`
}

type invalidOTPResponse struct {
	Error     string `json:"error"`
	Attempts  int    `json:"attempts"`
	Remaining int    `json:"remaining"`
}

// HandleSendOTP handles POST /api/send-otp
func (h *OTPHandler) HandleSendOTP(w http.ResponseWriter, r *http.Request) {
	var req sendOTPRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		respondWithError(w, http.StatusBadRequest, "Email is required")
		return
	}
	ctx := r.Context()

	decision, err := h.limiter.Allow(ctx, email)
	if err != nil {
		h.log.Error("otp rate limit check failed", "email", logger.MaskEmail(email), "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to send OTP")
		return
	}
	if !decision.Allowed {
		resetIn := decision.ResetInSeconds()
		respondJSON(w, h.log, http.StatusTooManyRequests, rateLimitedResponse{
			Error:     fmt.Sprintf("Too many requests. Please try again in %d seconds", resetIn),
			Remaining: decision.Remaining,
			ResetIn:   resetIn,
		})
		return
	}

	code, err := otp.GenerateCode()
	if err != nil {
		h.log.Error("otp generation failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to send OTP")
		return
	}
	if err := h.store.Put(ctx, email, code); err != nil {
		h.log.Error("otp store failed", "email", logger.MaskEmail(email), "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to send OTP")
		return
	}
	if err := h.mail.SendOTP(ctx, email, code, otp.CodeTTL); err != nil {
		h.log.Error("otp email failed", "email", logger.MaskEmail(email), "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to send OTP. Please check your email configuration.")
		return
	}

	resp := sendOTPResponse{Message: "OTP sent successfully", Email: email}
	if h.devMode {
		resp.OTP = code
	}
	respondJSON(w, h.log, http.StatusOK, resp)
}

// HandleVerifyOTP handles POST /api/verify-otp
func (h *OTPHandler) HandleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	email := strings.TrimSpace(req.Email)
	code := strings.TrimSpace(req.OTP)
	if email == "" || code == "" {
		respondWithError(w, http.StatusBadRequest, "Email and OTP are required")
		return
	}
	ctx := r.Context()

	ok, err := h.store.Verify(ctx, email, code)
	if err != nil {
		h.log.Error("otp verify failed", "email", logger.MaskEmail(email), "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to verify OTP")
		return
	}
	if !ok {
		attempts, err := h.store.Attempts(ctx, email)
		if err != nil {
			h.log.Warn("otp attempts lookup failed", "email", logger.MaskEmail(email), "error", err)
		}
		remaining := otp.MaxAttempts - attempts
		if remaining < 0 {
			remaining = 0
		}
		respondJSON(w, h.log, http.StatusBadRequest, invalidOTPResponse{
			Error:     "Invalid OTP",
			Attempts:  attempts,
			Remaining: remaining,
		})
		return
	}

	respondJSON(w, h.log, http.StatusOK, verifyOTPResponse{
		Message:  "OTP verified successfully",
		Email:    email,
		Verified: true,
	})
}
