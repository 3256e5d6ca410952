package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gradedge/gradedge/internal/config"
	"github.com/gradedge/gradedge/internal/models"
	"github.com/gradedge/gradedge/internal/repository"
	"github.com/sirupsen/logrus"
)

var (
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrUserNotFound         = errors.New("user not found")
	ErrEmailMismatch        = errors.New("email does not match our records")
	ErrNoPendingChallenge   = errors.New("no pending verification for this user")
	ErrOTPExpired           = errors.New("otp expired")
	ErrOTPInvalid           = errors.New("invalid otp")
	ErrTooManyAttempts      = errors.New("maximum attempts exceeded")
	ErrVerificationRequired = errors.New("otp verification required or expired")
	ErrUsernameTaken        = errors.New("username already taken")
	ErrNoChange             = errors.New("no changes to make")
	ErrInvalidRole          = errors.New("invalid role")
	ErrInvalidSetupToken    = errors.New("invalid or expired setup link")
)

// AuthService composes the credential store, OTP issuer, audit log and
// notification sender into the login, password-reset and credential-change
// flows. Audit writes and mail sends are best-effort throughout: they are
// logged on failure and never fail the primary operation.
type AuthService struct {
	users   repository.UserStore
	audit   repository.AuditStore
	otp     *OTPService
	setup   *SetupService
	mailer  Sender
	authCfg *config.AuthConfig
	otpCfg  *config.OTPConfig
	logger  *logrus.Logger
}

func NewAuthService(
	users repository.UserStore,
	audit repository.AuditStore,
	otp *OTPService,
	setup *SetupService,
	mailer Sender,
	authCfg *config.AuthConfig,
	otpCfg *config.OTPConfig,
	logger *logrus.Logger,
) *AuthService {
	return &AuthService{
		users:   users,
		audit:   audit,
		otp:     otp,
		setup:   setup,
		mailer:  mailer,
		authCfg: authCfg,
		otpCfg:  otpCfg,
		logger:  logger,
	}
}

type LoginResult struct {
	Username string
	Role     models.Role
	Redirect string
}

// Login runs the ordered credential checks: the credential store, the
// environment admin override, then the legacy faculty-ID verifier. The first
// success wins. Every failure collapses into ErrInvalidCredentials so the
// response never reveals which check failed or whether the user exists.
func (s *AuthService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	user, err := s.users.Find(ctx, username)
	if err != nil {
		s.logger.WithError(err).Error("Credential store lookup failed during login")
	}
	if user != nil && CheckPassword(user.PasswordHash, password) {
		return s.loginSucceeded(ctx, username, user.Role), nil
	}

	if s.authCfg.AdminUsername != "" && s.authCfg.AdminPassword != "" &&
		username == s.authCfg.AdminUsername && password == s.authCfg.AdminPassword {
		return s.loginSucceeded(ctx, username, models.RoleAdmin), nil
	}

	faculty, err := s.users.FindByFacultyID(ctx, username)
	if err != nil {
		s.logger.WithError(err).Error("Faculty lookup failed during login")
	}
	if faculty != nil && CheckPassword(faculty.PasswordHash, password) {
		return s.loginSucceeded(ctx, faculty.Username, models.RoleFaculty), nil
	}

	return nil, ErrInvalidCredentials
}

func (s *AuthService) loginSucceeded(ctx context.Context, username string, role models.Role) *LoginResult {
	s.logEvent(ctx, username, role, models.ActionLogin, nil)
	return &LoginResult{
		Username: username,
		Role:     role,
		Redirect: models.RedirectFor(role),
	}
}

// Logout records the event. It never fails.
func (s *AuthService) Logout(ctx context.Context, username string, role models.Role) {
	if username == "" {
		return
	}
	s.logEvent(ctx, username, role, models.ActionLogout, nil)
}

// Signup creates a user with a globally unique username and mails a one-time
// setup link so the account owner can pick their own password.
func (s *AuthService) Signup(ctx context.Context, user *models.User, password string) (*models.User, error) {
	if user.Username == "" || password == "" {
		return nil, fmt.Errorf("username and password required")
	}
	if user.Role == "" {
		user.Role = models.RoleStudent
	}
	if !models.ValidRole(user.Role) {
		return nil, ErrInvalidRole
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	user.PasswordHash = hash

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}

	s.logEvent(ctx, user.Username, user.Role, models.ActionSignup, nil)
	s.sendWelcome(ctx, user)

	return user, nil
}

func (s *AuthService) sendWelcome(ctx context.Context, user *models.User) {
	if s.mailer == nil || user.Email == "" {
		return
	}

	body := fmt.Sprintf("Hello %s,\n\nYour %s account is ready.",
		displayName(user), user.Role)
	if s.setup != nil {
		token, err := s.setup.Generate(user.Username)
		if err != nil {
			s.logger.WithError(err).Error("Failed to generate setup link")
		} else {
			body += fmt.Sprintf("\n\nSet your password using this one-time link (valid for a limited time):\n%s",
				s.setup.Link(token))
		}
	}
	body += "\n\nBest regards,\nGradEdge Team"

	if err := s.mailer.Send(ctx, user.Email, "Welcome to GradEdge", body); err != nil {
		s.logger.WithError(err).WithField("username", user.Username).Warn("Failed to send welcome email")
	}
}

// CompleteAccountSetup redeems a setup link and sets the account password.
func (s *AuthService) CompleteAccountSetup(ctx context.Context, token, password string) error {
	if s.setup == nil {
		return ErrInvalidSetupToken
	}

	username, err := s.setup.Redeem(token)
	if err != nil {
		return ErrInvalidSetupToken
	}

	hash, err := HashPassword(password)
	if err != nil {
		return err
	}

	role, err := s.users.SetPassword(ctx, username, hash)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return err
	}

	s.logEvent(ctx, username, role, models.ActionPasswordReset, map[string]string{"via": "setup_link"})
	return nil
}

func resetKey(username, email string) string {
	return fmt.Sprintf("reset:%s:%s", username, normalizeEmail(email))
}

func credKey(username string) string {
	return fmt.Sprintf("cred:%s", username)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// PasswordResetInit issues a reset code for an existing user. When the stored
// document carries an email it must match the supplied one
// (case-insensitively); accounts without a stored email accept any address.
// The plaintext code is returned so the handler can echo it in debug mode.
func (s *AuthService) PasswordResetInit(ctx context.Context, username, email string) (string, error) {
	user, err := s.users.Find(ctx, username)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", ErrUserNotFound
	}

	if user.Email != "" && normalizeEmail(user.Email) != normalizeEmail(email) {
		return "", ErrEmailMismatch
	}

	code, err := s.otp.Issue(ctx, resetKey(username, email), normalizeEmail(email), s.otpCfg.ResetWindow)
	if err != nil {
		return "", err
	}

	s.sendOTPEmail(ctx, email, code)
	return code, nil
}

// PasswordResetResend regenerates the code for a pending reset and extends
// its expiry. It does not create a challenge from nothing.
func (s *AuthService) PasswordResetResend(ctx context.Context, username, email string) (string, error) {
	code, err := s.otp.Regenerate(ctx, resetKey(username, email), s.otpCfg.ResetWindow)
	if err != nil {
		if errors.Is(err, ErrNoChallenge) {
			return "", ErrNoPendingChallenge
		}
		return "", err
	}

	s.sendOTPEmail(ctx, email, code)
	return code, nil
}

// PasswordResetVerify atomically checks and consumes the code, then rehashes
// the password and records the reset.
func (s *AuthService) PasswordResetVerify(ctx context.Context, username, email, otp, newPassword string) error {
	result, err := s.otp.VerifyAndConsume(ctx, resetKey(username, email), otp)
	if err != nil {
		if errors.Is(err, ErrNoChallenge) {
			return ErrNoPendingChallenge
		}
		return err
	}

	switch result {
	case ResultExpired:
		return ErrOTPExpired
	case ResultTooManyAttempts:
		return ErrTooManyAttempts
	case ResultInvalid:
		return ErrOTPInvalid
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}

	role, err := s.users.SetPassword(ctx, username, hash)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return err
	}

	s.logEvent(ctx, username, role, models.ActionPasswordReset, nil)
	return nil
}

// SendCredentialOTP starts the student credential-change flow with the short
// verification window.
func (s *AuthService) SendCredentialOTP(ctx context.Context, username, email string) (string, error) {
	user, err := s.users.Find(ctx, username)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", ErrUserNotFound
	}

	code, err := s.otp.Issue(ctx, credKey(username), normalizeEmail(email), s.otpCfg.VerifyWindow)
	if err != nil {
		return "", err
	}

	s.sendOTPEmail(ctx, email, code)
	return code, nil
}

// VerifyCredentialOTP marks the challenge verified, opening the action
// window for UpdateCredentials.
func (s *AuthService) VerifyCredentialOTP(ctx context.Context, username, otp string) error {
	result, err := s.otp.Verify(ctx, credKey(username), otp)
	if err != nil {
		if errors.Is(err, ErrNoChallenge) {
			return ErrNoPendingChallenge
		}
		return err
	}

	switch result {
	case ResultExpired:
		return ErrOTPExpired
	case ResultTooManyAttempts:
		return ErrTooManyAttempts
	case ResultInvalid:
		return ErrOTPInvalid
	}

	return nil
}

// UpdateCredentials changes username and/or password after a verified OTP,
// inside the action window. Returns the effective username.
func (s *AuthService) UpdateCredentials(ctx context.Context, username, newUsername, newPassword string) (string, error) {
	newUsername = strings.TrimSpace(newUsername)
	newPassword = strings.TrimSpace(newPassword)
	if newUsername == username {
		newUsername = ""
	}
	if newUsername == "" && newPassword == "" {
		return "", ErrNoChange
	}

	ok, err := s.otp.ConsumeIfVerified(ctx, credKey(username), s.otpCfg.ActionWindow)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrVerificationRequired
	}

	user, err := s.users.Find(ctx, username)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", ErrUserNotFound
	}

	var changed []string

	if newPassword != "" {
		hash, err := HashPassword(newPassword)
		if err != nil {
			return "", err
		}
		user.PasswordHash = hash
		changed = append(changed, "password")
	}

	finalUsername := username
	if newUsername != "" {
		existing, err := s.users.Find(ctx, newUsername)
		if err != nil {
			return "", err
		}
		if existing != nil {
			return "", ErrUsernameTaken
		}

		user.Username = newUsername
		if err := s.users.Rename(ctx, username, user); err != nil {
			if errors.Is(err, repository.ErrUserExists) {
				return "", ErrUsernameTaken
			}
			return "", err
		}
		finalUsername = newUsername
		changed = append(changed, "username")
	} else {
		if _, err := s.users.SetPassword(ctx, username, user.PasswordHash); err != nil {
			return "", err
		}
	}

	s.notifyCredentialChange(ctx, user, changed)
	return finalUsername, nil
}

// notifyCredentialChange names the changed fields, never their values.
func (s *AuthService) notifyCredentialChange(ctx context.Context, user *models.User, changed []string) {
	if s.mailer == nil || user.Email == "" || len(changed) == 0 {
		return
	}

	body := fmt.Sprintf(
		"Hello %s,\n\nThe following account details were just changed: %s.\n\nIf you did not make these changes, contact your administrator immediately.\n\nBest regards,\nGradEdge Team",
		displayName(user), strings.Join(changed, ", "))

	if err := s.mailer.Send(ctx, user.Email, "GradEdge - Account credentials updated", body); err != nil {
		s.logger.WithError(err).WithField("username", user.Username).Warn("Failed to send credential-change notification")
	}
}

// RecentLogs returns audit entries newest first. The limit is capped at 200.
func (s *AuthService) RecentLogs(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	return s.audit.Recent(ctx, limit)
}

// Profile returns the stored user document for a username, without exposing
// the password hash through JSON.
func (s *AuthService) Profile(ctx context.Context, username string) (*models.User, error) {
	user, err := s.users.Find(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func (s *AuthService) sendOTPEmail(ctx context.Context, email, code string) {
	if s.mailer == nil {
		return
	}

	body := fmt.Sprintf(
		"Hello,\n\nYour GradEdge verification code is: %s\n\nIf you didn't request this code, please ignore this email.\n\nBest regards,\nGradEdge Team",
		code)

	if err := s.mailer.Send(ctx, email, "GradEdge - Verification Code", body); err != nil {
		s.logger.WithError(err).WithField("email", email).Warn("Failed to send OTP email")
	}
}

func (s *AuthService) logEvent(ctx context.Context, username string, role models.Role, action models.AuditAction, extra map[string]string) {
	entry := &models.AuditEntry{
		Username: username,
		Role:     role,
		Action:   action,
		Extra:    extra,
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"username": username,
			"action":   action,
		}).Error("Failed to record audit event")
	}
}

func displayName(user *models.User) string {
	if user.FullName != "" {
		return user.FullName
	}
	return user.Username
}
