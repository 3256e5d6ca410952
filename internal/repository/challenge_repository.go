package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gradedge/gradedge/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisChallengeStore keeps OTP challenges in Redis with a TTL equal to the
// challenge validity window, so abandoned challenges evict themselves.
type RedisChallengeStore struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewRedisChallengeStore(client *redis.Client, logger *logrus.Logger) *RedisChallengeStore {
	return &RedisChallengeStore{
		client: client,
		logger: logger,
	}
}

func challengeKey(key string) string {
	return fmt.Sprintf("otp:%s", key)
}

func (s *RedisChallengeStore) Get(ctx context.Context, key string) (*models.Challenge, error) {
	dataJSON, err := s.client.Get(ctx, challengeKey(key)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		s.logger.WithError(err).Error("Failed to get OTP challenge from Redis")
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}

	var challenge models.Challenge
	if err := json.Unmarshal([]byte(dataJSON), &challenge); err != nil {
		return nil, fmt.Errorf("failed to unmarshal challenge: %w", err)
	}

	return &challenge, nil
}

func (s *RedisChallengeStore) Put(ctx context.Context, challenge *models.Challenge, ttl time.Duration) error {
	dataJSON, err := json.Marshal(challenge)
	if err != nil {
		return fmt.Errorf("failed to marshal challenge: %w", err)
	}

	if ttl <= 0 {
		ttl = time.Until(challenge.ExpiresAt)
	}

	if err := s.client.Set(ctx, challengeKey(challenge.Key), dataJSON, ttl).Err(); err != nil {
		s.logger.WithError(err).Error("Failed to store OTP challenge in Redis")
		return fmt.Errorf("failed to store challenge: %w", err)
	}

	return nil
}

func (s *RedisChallengeStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, challengeKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete challenge: %w", err)
	}
	return nil
}
