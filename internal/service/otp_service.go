package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/gradedge/gradedge/internal/config"
	"github.com/gradedge/gradedge/internal/models"
	"github.com/gradedge/gradedge/internal/repository"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const otpLength = 4

var ErrNoChallenge = errors.New("no pending challenge")

type VerifyResult int

const (
	ResultInvalid VerifyResult = iota
	ResultExpired
	ResultTooManyAttempts
	ResultOk
)

// OTPService issues, verifies and consumes short-lived numeric codes. Every
// state transition runs under one mutex so verify-then-consume and
// issue-overwrites-issue sequences stay atomic regardless of the backing
// store.
type OTPService struct {
	mu     sync.Mutex
	store  repository.ChallengeStore
	cfg    *config.OTPConfig
	logger *logrus.Logger
	now    func() time.Time
}

func NewOTPService(store repository.ChallengeStore, cfg *config.OTPConfig, logger *logrus.Logger) *OTPService {
	return &OTPService{
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Issue generates a fresh 4-digit code for the subject key, overwriting any
// pending challenge, and returns the plaintext code for delivery.
func (s *OTPService) Issue(ctx context.Context, key, email string, window time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueLocked(ctx, key, email, window)
}

// Regenerate replaces the code and extends the expiry of an existing
// challenge. Unlike Issue it fails with ErrNoChallenge when nothing is
// pending for the key.
func (s *OTPService) Regenerate(ctx context.Context, key string, window time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.store.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if existing == nil {
		return "", ErrNoChallenge
	}

	return s.issueLocked(ctx, key, existing.Email, window)
}

func (s *OTPService) issueLocked(ctx context.Context, key, email string, window time.Duration) (string, error) {
	code, err := generateCode(otpLength)
	if err != nil {
		return "", fmt.Errorf("failed to generate OTP: %w", err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash OTP: %w", err)
	}

	now := s.now()
	challenge := &models.Challenge{
		Key:       key,
		CodeHash:  string(hashed),
		Email:     email,
		Attempts:  0,
		CreatedAt: now,
		ExpiresAt: now.Add(window),
	}

	if err := s.store.Put(ctx, challenge, window); err != nil {
		s.logger.WithError(err).Error("Failed to store OTP challenge")
		return "", fmt.Errorf("failed to store challenge: %w", err)
	}

	return code, nil
}

// Verify checks a candidate code. Expired challenges are deleted. A mismatch
// increments the attempt counter and deletes the challenge once the cap is
// hit. A match marks the challenge verified and keeps it for the follow-up
// action window.
func (s *OTPService) Verify(ctx context.Context, key, code string) (VerifyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	challenge, err := s.store.Get(ctx, key)
	if err != nil {
		return ResultInvalid, err
	}
	if challenge == nil {
		return ResultInvalid, ErrNoChallenge
	}

	now := s.now()
	if !now.Before(challenge.ExpiresAt) {
		s.store.Delete(ctx, key)
		return ResultExpired, nil
	}

	if err := bcrypt.CompareHashAndPassword([]byte(challenge.CodeHash), []byte(code)); err != nil {
		challenge.Attempts++
		if s.cfg.MaxAttempts > 0 && challenge.Attempts >= s.cfg.MaxAttempts {
			s.store.Delete(ctx, key)
			return ResultTooManyAttempts, nil
		}
		if err := s.store.Put(ctx, challenge, challenge.ExpiresAt.Sub(now)); err != nil {
			s.logger.WithError(err).Error("Failed to record OTP attempt")
		}
		return ResultInvalid, nil
	}

	challenge.Verified = true
	challenge.VerifiedAt = now
	// Keep the verified challenge around long enough for the action window.
	if err := s.store.Put(ctx, challenge, s.cfg.ActionWindow); err != nil {
		s.logger.WithError(err).Error("Failed to mark OTP challenge verified")
		return ResultInvalid, fmt.Errorf("failed to mark challenge verified: %w", err)
	}

	return ResultOk, nil
}

// VerifyAndConsume is the single-window variant used by password reset: a
// successful match deletes the challenge in the same critical section.
func (s *OTPService) VerifyAndConsume(ctx context.Context, key, code string) (VerifyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	challenge, err := s.store.Get(ctx, key)
	if err != nil {
		return ResultInvalid, err
	}
	if challenge == nil {
		return ResultInvalid, ErrNoChallenge
	}

	now := s.now()
	if !now.Before(challenge.ExpiresAt) {
		s.store.Delete(ctx, key)
		return ResultExpired, nil
	}

	if err := bcrypt.CompareHashAndPassword([]byte(challenge.CodeHash), []byte(code)); err != nil {
		challenge.Attempts++
		if s.cfg.MaxAttempts > 0 && challenge.Attempts >= s.cfg.MaxAttempts {
			s.store.Delete(ctx, key)
			return ResultTooManyAttempts, nil
		}
		if err := s.store.Put(ctx, challenge, challenge.ExpiresAt.Sub(now)); err != nil {
			s.logger.WithError(err).Error("Failed to record OTP attempt")
		}
		return ResultInvalid, nil
	}

	if err := s.store.Delete(ctx, key); err != nil {
		return ResultInvalid, fmt.Errorf("failed to consume challenge: %w", err)
	}

	return ResultOk, nil
}

// ConsumeIfVerified deletes the challenge and returns true only when it was
// verified within the action window. Stale or unverified challenges return
// false; stale ones are deleted so they cannot be retried.
func (s *OTPService) ConsumeIfVerified(ctx context.Context, key string, actionWindow time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	challenge, err := s.store.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if challenge == nil || !challenge.Verified {
		return false, nil
	}

	if s.now().Sub(challenge.VerifiedAt) > actionWindow {
		s.store.Delete(ctx, key)
		return false, nil
	}

	if err := s.store.Delete(ctx, key); err != nil {
		return false, fmt.Errorf("failed to consume challenge: %w", err)
	}

	return true, nil
}

// HasVerified reports whether a verified, unconsumed challenge exists for the
// key without consuming it.
func (s *OTPService) HasVerified(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	challenge, err := s.store.Get(ctx, key)
	if err != nil {
		return false, err
	}
	return challenge != nil && challenge.Verified, nil
}

func generateCode(length int) (string, error) {
	code := ""
	for i := 0; i < length; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		code += num.String()
	}
	return code, nil
}
