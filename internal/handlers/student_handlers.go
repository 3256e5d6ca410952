package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gradedge/gradedge/internal/service"
	"github.com/sirupsen/logrus"
)

// StudentHandlers covers student self-service: profile lookup and the
// two-phase OTP credential-change flow.
type StudentHandlers struct {
	auth     *service.AuthService
	otpDebug bool
	logger   *logrus.Logger
}

func NewStudentHandlers(auth *service.AuthService, otpDebug bool, logger *logrus.Logger) *StudentHandlers {
	return &StudentHandlers{
		auth:     auth,
		otpDebug: otpDebug,
		logger:   logger,
	}
}

type SendOTPRequest struct {
	Email string `json:"email"`
}

type VerifyOTPRequest struct {
	OTP string `json:"otp"`
}

type UpdateCredentialsRequest struct {
	NewUsername string `json:"new_username"`
	NewPassword string `json:"new_password"`
}

func (h *StudentHandlers) Profile(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]

	user, err := h.auth.Profile(r.Context(), username)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			respondWithError(w, http.StatusNotFound, "student not found")
			return
		}
		h.logger.WithError(err).Error("Failed to fetch student profile")
		respondWithError(w, http.StatusInternalServerError, "internal error")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"ok":   true,
		"data": user,
	})
}

func (h *StudentHandlers) SendOTP(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]

	var req SendOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	email := strings.TrimSpace(req.Email)
	if email == "" {
		respondWithError(w, http.StatusBadRequest, "email is required")
		return
	}

	code, err := h.auth.SendCredentialOTP(r.Context(), username, email)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			respondWithError(w, http.StatusNotFound, "student not found")
			return
		}
		h.logger.WithError(err).Error("Failed to send credential OTP")
		respondWithError(w, http.StatusInternalServerError, "internal error")
		return
	}

	payload := map[string]interface{}{
		"ok":      true,
		"message": fmt.Sprintf("OTP sent to %s", email),
	}
	if h.otpDebug {
		payload["otp"] = code
	}
	respondWithJSON(w, http.StatusOK, payload)
}

func (h *StudentHandlers) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]

	var req VerifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(req.OTP) == "" {
		respondWithError(w, http.StatusBadRequest, "otp is required")
		return
	}

	if err := h.auth.VerifyCredentialOTP(r.Context(), username, strings.TrimSpace(req.OTP)); err != nil {
		switch {
		case errors.Is(err, service.ErrNoPendingChallenge),
			errors.Is(err, service.ErrOTPExpired),
			errors.Is(err, service.ErrOTPInvalid),
			errors.Is(err, service.ErrTooManyAttempts):
			respondWithError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.WithError(err).Error("Failed to verify credential OTP")
			respondWithError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"message": "OTP verified successfully",
	})
}

func (h *StudentHandlers) UpdateCredentials(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]

	var req UpdateCredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	finalUsername, err := h.auth.UpdateCredentials(r.Context(), username, req.NewUsername, req.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNoChange),
			errors.Is(err, service.ErrVerificationRequired),
			errors.Is(err, service.ErrUsernameTaken):
			respondWithError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrUserNotFound):
			respondWithError(w, http.StatusNotFound, "student not found")
		default:
			h.logger.WithError(err).Error("Failed to update credentials")
			respondWithError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"ok":       true,
		"message":  "credentials updated successfully",
		"username": finalUsername,
	})
}
