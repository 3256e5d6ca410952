package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gradedge/gradedge/internal/models"
	"github.com/gradedge/gradedge/internal/service"
	"github.com/sirupsen/logrus"
)

type AuthHandlers struct {
	auth     *service.AuthService
	otpDebug bool
	logger   *logrus.Logger
}

func NewAuthHandlers(auth *service.AuthService, otpDebug bool, logger *logrus.Logger) *AuthHandlers {
	return &AuthHandlers{
		auth:     auth,
		otpDebug: otpDebug,
		logger:   logger,
	}
}

type LoginRequest struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type LoginResponse struct {
	OK       bool   `json:"ok"`
	Role     string `json:"role"`
	Redirect string `json:"redirect"`
	Username string `json:"username"`
}

type LogoutRequest struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

type SignupRequest struct {
	Username        string `json:"username"`
	Password        string `json:"password"`
	Role            string `json:"role"`
	Email           string `json:"email"`
	Mobile          string `json:"mobile"`
	FullName        string `json:"full_name"`
	Department      string `json:"department"`
	EnrollmentID    string `json:"enrollment_id"`
	FacultyID       string `json:"faculty_id"`
	InstitutionalID string `json:"institutional_id"`
	InstitutionName string `json:"institution_name"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
}

type AccountSetupRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type PasswordResetRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	OTP         string `json:"otp"`
	NewPassword string `json:"new_password"`
}

func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	username := strings.TrimSpace(req.Username)
	if username == "" {
		username = strings.TrimSpace(req.Name)
	}

	if username == "" || req.Password == "" {
		respondWithError(w, http.StatusBadRequest, "username and password required")
		return
	}

	result, err := h.auth.Login(r.Context(), username, req.Password)
	if err != nil {
		// Same message for every failure mode.
		respondWithError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	respondWithJSON(w, http.StatusOK, LoginResponse{
		OK:       true,
		Role:     string(result.Role),
		Redirect: result.Redirect,
		Username: result.Username,
	})
}

func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	var req LogoutRequest
	json.NewDecoder(r.Body).Decode(&req)

	role := models.Role(req.Role)
	if role == "" {
		role = "unknown"
	}
	h.auth.Logout(r.Context(), strings.TrimSpace(req.Username), role)

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"message": "logged out",
	})
}

func (h *AuthHandlers) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		respondWithError(w, http.StatusBadRequest, "username and password required")
		return
	}

	user := &models.User{
		Username:        username,
		Role:            models.Role(strings.ToLower(req.Role)),
		Email:           strings.TrimSpace(req.Email),
		Mobile:          strings.TrimSpace(req.Mobile),
		FullName:        strings.TrimSpace(req.FullName),
		Department:      strings.TrimSpace(req.Department),
		EnrollmentID:    strings.TrimSpace(req.EnrollmentID),
		FacultyID:       strings.TrimSpace(req.FacultyID),
		InstitutionalID: strings.TrimSpace(req.InstitutionalID),
		InstitutionName: strings.TrimSpace(req.InstitutionName),
		FirstName:       strings.TrimSpace(req.FirstName),
		LastName:        strings.TrimSpace(req.LastName),
	}

	created, err := h.auth.Signup(r.Context(), user, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUsernameTaken), errors.Is(err, service.ErrInvalidRole):
			respondWithError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.WithError(err).Error("Signup failed")
			respondWithError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	respondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"ok":   true,
		"user": created,
	})
}

func (h *AuthHandlers) AccountSetup(w http.ResponseWriter, r *http.Request) {
	var req AccountSetupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Token == "" || req.Password == "" {
		respondWithError(w, http.StatusBadRequest, "token and password required")
		return
	}

	if err := h.auth.CompleteAccountSetup(r.Context(), req.Token, req.Password); err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidSetupToken), errors.Is(err, service.ErrUserNotFound):
			respondWithError(w, http.StatusBadRequest, "invalid or expired setup link")
		default:
			h.logger.WithError(err).Error("Account setup failed")
			respondWithError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"message": "password set successfully",
	})
}

func (h *AuthHandlers) PasswordResetInit(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Username == "" || req.Email == "" {
		respondWithError(w, http.StatusBadRequest, "username and email required")
		return
	}

	code, err := h.auth.PasswordResetInit(r.Context(), req.Username, req.Email)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUserNotFound):
			respondWithError(w, http.StatusNotFound, "user not found")
		case errors.Is(err, service.ErrEmailMismatch):
			respondWithError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.WithError(err).Error("Password reset init failed")
			respondWithError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	payload := map[string]interface{}{
		"ok":      true,
		"message": "Password reset OTP sent to email",
	}
	if h.otpDebug {
		payload["otp"] = code
	}
	respondWithJSON(w, http.StatusOK, payload)
}

func (h *AuthHandlers) PasswordResetVerify(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Username == "" || req.Email == "" || req.OTP == "" || req.NewPassword == "" {
		respondWithError(w, http.StatusBadRequest, "username, email, otp and new_password required")
		return
	}

	err := h.auth.PasswordResetVerify(r.Context(), req.Username, req.Email, req.OTP, req.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNoPendingChallenge),
			errors.Is(err, service.ErrOTPExpired),
			errors.Is(err, service.ErrOTPInvalid),
			errors.Is(err, service.ErrTooManyAttempts),
			errors.Is(err, service.ErrUserNotFound):
			respondWithError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.WithError(err).Error("Password reset verify failed")
			respondWithError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"message": "password updated successfully",
	})
}

func (h *AuthHandlers) PasswordResetResend(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Username == "" || req.Email == "" {
		respondWithError(w, http.StatusBadRequest, "username and email required")
		return
	}

	code, err := h.auth.PasswordResetResend(r.Context(), req.Username, req.Email)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNoPendingChallenge):
			respondWithError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.WithError(err).Error("Password reset resend failed")
			respondWithError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	payload := map[string]interface{}{
		"ok":      true,
		"message": "Password reset OTP resent to email",
	}
	if h.otpDebug {
		payload["otp"] = code
	}
	respondWithJSON(w, http.StatusOK, payload)
}

func respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondWithError(w http.ResponseWriter, status int, message string) {
	respondWithJSON(w, status, map[string]interface{}{
		"ok":      false,
		"message": message,
	})
}
