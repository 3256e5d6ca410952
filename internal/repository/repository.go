package repository

import (
	"context"
	"errors"
	"time"

	"github.com/gradedge/gradedge/internal/models"
)

var (
	ErrUserExists   = errors.New("username already exists")
	ErrUserNotFound = errors.New("user not found")
)

// UserStore is the credential store: one document per username, globally
// unique across every role partition. Find returns (nil, nil) when the user
// does not exist.
type UserStore interface {
	Find(ctx context.Context, username string) (*models.User, error)
	FindByFacultyID(ctx context.Context, facultyID string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	SetPassword(ctx context.Context, username, passwordHash string) (models.Role, error)
	// Rename atomically moves a user record to a new username. Fails with
	// ErrUserExists when the target username is taken.
	Rename(ctx context.Context, oldUsername string, user *models.User) error
}

// AuditStore is append-only. Recent returns entries newest first.
type AuditStore interface {
	Append(ctx context.Context, entry *models.AuditEntry) error
	Recent(ctx context.Context, limit int) ([]models.AuditEntry, error)
}

// ChallengeStore holds OTP challenges for at most their validity window.
// Get returns (nil, nil) when no challenge exists for the key.
type ChallengeStore interface {
	Get(ctx context.Context, key string) (*models.Challenge, error)
	Put(ctx context.Context, challenge *models.Challenge, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
