package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	DynamoDB  DynamoDBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	OTP       OTPConfig
	SetupLink SetupLinkConfig
	SMTP      SMTPConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DynamoDBConfig selects the document store. An empty TableName means the
// in-memory fallback stores are used instead.
type DynamoDBConfig struct {
	Endpoint  string
	Region    string
	TableName string
}

// RedisConfig selects the OTP challenge store. An empty Endpoint means the
// in-memory challenge store is used instead.
type RedisConfig struct {
	Endpoint string
	Password string
	DB       int
}

// AuthConfig carries the environment admin override credentials. Both fields
// must be set for the override to be active.
type AuthConfig struct {
	AdminUsername string
	AdminPassword string
}

type OTPConfig struct {
	// DebugEcho echoes generated codes in API responses. Local testing only.
	DebugEcho bool
	// ResetWindow is the single validity window for password-reset codes.
	ResetWindow time.Duration
	// VerifyWindow and ActionWindow are the two phases of the student
	// credential-change flow: the code must be verified within VerifyWindow,
	// and the credential update must follow within ActionWindow of that
	// verification.
	VerifyWindow time.Duration
	ActionWindow time.Duration
	MaxAttempts  int
}

type SetupLinkConfig struct {
	Secret  string
	Expiry  time.Duration
	BaseURL string
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	UseTLS   bool
	Timeout  time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		DynamoDB: DynamoDBConfig{
			Endpoint:  getEnv("DYNAMODB_ENDPOINT", ""),
			Region:    getEnv("DYNAMODB_REGION", "us-east-1"),
			TableName: getEnv("DYNAMODB_TABLE_NAME", ""),
		},
		Redis: RedisConfig{
			Endpoint: getEnv("REDIS_ENDPOINT", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			AdminUsername: strings.TrimSpace(getEnv("ADMIN_USERNAME", "")),
			AdminPassword: strings.TrimSpace(getEnv("ADMIN_PASSWORD", "")),
		},
		OTP: OTPConfig{
			DebugEcho:    getEnvAsBool("OTP_DEBUG", false),
			ResetWindow:  getEnvAsDuration("OTP_RESET_WINDOW", 2*time.Minute),
			VerifyWindow: getEnvAsDuration("OTP_VERIFY_WINDOW", 60*time.Second),
			ActionWindow: getEnvAsDuration("OTP_ACTION_WINDOW", 300*time.Second),
			MaxAttempts:  getEnvAsInt("OTP_MAX_ATTEMPTS", 5),
		},
		SetupLink: SetupLinkConfig{
			Secret:  getEnv("SETUP_LINK_SECRET", ""),
			Expiry:  getEnvAsDuration("SETUP_LINK_EXPIRY", 48*time.Hour),
			BaseURL: getEnv("SETUP_LINK_BASE_URL", "http://localhost:8080"),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USER", ""),
			Password: getEnv("SMTP_PASS", ""),
			From:     getEnv("SMTP_FROM", ""),
			UseTLS:   getEnvAsBool("SMTP_USE_TLS", true),
			Timeout:  getEnvAsDuration("SMTP_TIMEOUT", 10*time.Second),
		},
	}

	if cfg.SetupLink.Secret != "" && len(cfg.SetupLink.Secret) < 32 {
		return nil, fmt.Errorf("SETUP_LINK_SECRET must be at least 32 bytes (256 bits)")
	}

	if cfg.SMTP.From == "" {
		cfg.SMTP.From = cfg.SMTP.Username
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "1", "true", "yes":
			return true
		case "0", "false", "no":
			return false
		}
	}
	return defaultValue
}
