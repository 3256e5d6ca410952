package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gradedge/gradedge/internal/models"
)

// MemoryUserStore is the fallback credential store used when no DynamoDB
// table is configured. Safe for concurrent use.
type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]*models.User
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[string]*models.User)}
}

func (s *MemoryUserStore) Find(ctx context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[username]
	if !ok {
		return nil, nil
	}
	copied := *user
	return &copied, nil
}

func (s *MemoryUserStore) FindByFacultyID(ctx context.Context, facultyID string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.users {
		if user.FacultyID != "" && user.FacultyID == facultyID {
			copied := *user
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *MemoryUserStore) Create(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.Username]; ok {
		return ErrUserExists
	}

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	copied := *user
	s.users[user.Username] = &copied
	return nil
}

func (s *MemoryUserStore) SetPassword(ctx context.Context, username, passwordHash string) (models.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[username]
	if !ok {
		return "", ErrUserNotFound
	}

	user.PasswordHash = passwordHash
	user.UpdatedAt = time.Now()
	return user.Role, nil
}

func (s *MemoryUserStore) Rename(ctx context.Context, oldUsername string, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[oldUsername]; !ok {
		return ErrUserNotFound
	}
	if _, ok := s.users[user.Username]; ok {
		return ErrUserExists
	}

	user.UpdatedAt = time.Now()
	copied := *user
	delete(s.users, oldUsername)
	s.users[user.Username] = &copied
	return nil
}

// MemoryAuditStore keeps audit entries in process memory, newest appended
// last and returned first.
type MemoryAuditStore struct {
	mu      sync.RWMutex
	entries []models.AuditEntry
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

func (s *MemoryAuditStore) Append(ctx context.Context, entry *models.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	s.entries = append(s.entries, *entry)
	return nil
}

func (s *MemoryAuditStore) Recent(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 200
	}

	out := make([]models.AuditEntry, 0, limit)
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.entries[i])
	}
	return out, nil
}

// MemoryChallengeStore holds OTP challenges in process memory. Expired
// entries are dropped lazily on read.
type MemoryChallengeStore struct {
	mu         sync.Mutex
	challenges map[string]*models.Challenge
}

func NewMemoryChallengeStore() *MemoryChallengeStore {
	return &MemoryChallengeStore{challenges: make(map[string]*models.Challenge)}
}

func (s *MemoryChallengeStore) Get(ctx context.Context, key string) (*models.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	challenge, ok := s.challenges[key]
	if !ok {
		return nil, nil
	}
	copied := *challenge
	return &copied, nil
}

func (s *MemoryChallengeStore) Put(ctx context.Context, challenge *models.Challenge, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, existing := range s.challenges {
		if time.Now().After(existing.ExpiresAt) && !existing.Verified {
			delete(s.challenges, key)
		}
	}

	copied := *challenge
	s.challenges[challenge.Key] = &copied
	return nil
}

func (s *MemoryChallengeStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.challenges, key)
	return nil
}
