package service

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gradedge/gradedge/internal/config"
	"github.com/sirupsen/logrus"
)

const setupPurpose = "account-setup"

// SetupService signs one-time account-setup link tokens. New accounts get a
// link to set their own password instead of receiving credentials by mail.
type SetupService struct {
	secretKey []byte
	expiry    time.Duration
	baseURL   string
	logger    *logrus.Logger
}

func NewSetupService(cfg *config.SetupLinkConfig, logger *logrus.Logger) (*SetupService, error) {
	secretKey := []byte(cfg.Secret)
	if len(secretKey) < 32 {
		return nil, fmt.Errorf("setup link secret must be at least 32 bytes")
	}

	return &SetupService{
		secretKey: secretKey,
		expiry:    cfg.Expiry,
		baseURL:   cfg.BaseURL,
		logger:    logger,
	}, nil
}

type SetupClaims struct {
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

func (s *SetupService) Generate(username string) (string, error) {
	now := time.Now()
	claims := &SetupClaims{
		Purpose: setupPurpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secretKey)
	if err != nil {
		s.logger.WithError(err).Error("Failed to sign setup token")
		return "", fmt.Errorf("failed to sign setup token: %w", err)
	}

	return signed, nil
}

// Link wraps a token into the address mailed to the user.
func (s *SetupService) Link(token string) string {
	return fmt.Sprintf("%s/account-setup?token=%s", s.baseURL, token)
}

// Redeem validates a setup token and returns the username it was issued for.
func (s *SetupService) Redeem(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SetupClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	})

	if err != nil {
		return "", fmt.Errorf("failed to parse setup token: %w", err)
	}

	claims, ok := token.Claims.(*SetupClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid setup token")
	}

	if claims.Purpose != setupPurpose {
		return "", fmt.Errorf("token is not a setup token")
	}

	return claims.Subject, nil
}
