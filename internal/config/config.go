// Package config loads channel-hub configuration from environment
// variables with sensible defaults and validates it before startup.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//
// Database Configuration:
//   - DATABASE_TYPE: "sqlite" or "postgres" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./channel_hub.db)
//   - POSTGRES_DSN: PostgreSQL connection string (required for postgres)
//
// Redis Configuration:
//   - REDIS_ADDRESS: Redis server address (default: localhost:6379)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//
// Security Configuration:
//   - JWT_SECRET: JWT signing secret (required, minimum 32 characters)
//   - ENCRYPTION_KEY: Key for encrypting channel settings (required)
//
// Handshake and Lifecycle:
//   - HANDSHAKE_TTL: Auth URL state lifetime (default: 300s)
//   - PROVIDER_TIMEOUT: Per-call provider timeout (default: 20s)
//   - REFRESH_WAIT: Post-refresh propagation pause (default: 10s)
//   - REFRESH_SCHEDULE: Cron expression for the refresh sweep
//     (default: */30 * * * *, empty disables the sweep)
//
// Billing:
//   - BILLING_ENFORCED: Enable quota and trial checks (default: true)
//   - DEFAULT_CHANNEL_QUOTA: Channels per organization, 0 = unlimited
//     (default: 0)
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values for channel-hub.
type Config struct {
	// Application settings
	Port     string
	LogLevel string

	// Database configuration
	DatabaseType string
	DatabasePath string
	PostgresDSN  string

	// Redis configuration
	RedisAddress  string
	RedisPassword string
	RedisDB       string
	RedisPoolSize string

	// Security configuration
	JWTSecret     string
	EncryptionKey string

	// Handshake and lifecycle timing
	HandshakeTTL    string
	ProviderTimeout string
	RefreshWait     string
	RefreshSchedule string

	// Billing
	BillingEnforced     bool
	DefaultChannelQuota string
}

// Load creates a Config from environment variables. Call Validate()
// before use.
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseType: getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath: getEnv("DATABASE_PATH", "./channel_hub.db"),
		PostgresDSN:  getEnv("POSTGRES_DSN", ""),

		RedisAddress:  getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnv("REDIS_DB", "0"),
		RedisPoolSize: getEnv("REDIS_POOL_SIZE", "10"),

		JWTSecret:     getEnv("JWT_SECRET", ""),
		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),

		HandshakeTTL:    getEnv("HANDSHAKE_TTL", "300s"),
		ProviderTimeout: getEnv("PROVIDER_TIMEOUT", "20s"),
		RefreshWait:     getEnv("REFRESH_WAIT", "10s"),
		RefreshSchedule: getEnv("REFRESH_SCHEDULE", "*/30 * * * *"),

		BillingEnforced:     getBoolEnv("BILLING_ENFORCED", true),
		DefaultChannelQuota: getEnv("DEFAULT_CHANNEL_QUOTA", "0"),
	}
}

// Validate checks required fields, formats and cross-field
// dependencies.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters long for security")
	}
	if c.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY environment variable is required")
	}

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	switch c.DatabaseType {
	case "sqlite":
		if c.DatabasePath == "" {
			return fmt.Errorf("DATABASE_PATH is required when using SQLite")
		}
	case "postgres", "postgresql":
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required when using PostgreSQL")
		}
	default:
		return fmt.Errorf("DATABASE_TYPE must be 'sqlite' or 'postgres'")
	}

	if c.RedisAddress != "" {
		if db, err := strconv.Atoi(c.RedisDB); err != nil || db < 0 || db > 15 {
			return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
		}
		if poolSize, err := strconv.Atoi(c.RedisPoolSize); err != nil || poolSize < 1 {
			return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
		}
	}

	for name, value := range map[string]string{
		"HANDSHAKE_TTL":    c.HandshakeTTL,
		"PROVIDER_TIMEOUT": c.ProviderTimeout,
		"REFRESH_WAIT":     c.RefreshWait,
	} {
		if d, err := time.ParseDuration(value); err != nil || d < 0 {
			return fmt.Errorf("%s must be a valid duration (e.g. '300s', '10s')", name)
		}
	}

	if quota, err := strconv.Atoi(c.DefaultChannelQuota); err != nil || quota < 0 {
		return fmt.Errorf("DEFAULT_CHANNEL_QUOTA must be zero or a positive number")
	}

	return nil
}

// RedisDBNumber returns the parsed Redis database number.
func (c *Config) RedisDBNumber() int {
	db, _ := strconv.Atoi(c.RedisDB)
	return db
}

// RedisPool returns the parsed Redis pool size.
func (c *Config) RedisPool() int {
	size, _ := strconv.Atoi(c.RedisPoolSize)
	return size
}

// HandshakeTTLDuration returns the parsed handshake state TTL.
func (c *Config) HandshakeTTLDuration() time.Duration {
	d, _ := time.ParseDuration(c.HandshakeTTL)
	return d
}

// ProviderTimeoutDuration returns the parsed provider call timeout.
func (c *Config) ProviderTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.ProviderTimeout)
	return d
}

// RefreshWaitDuration returns the parsed post-refresh pause.
func (c *Config) RefreshWaitDuration() time.Duration {
	d, _ := time.ParseDuration(c.RefreshWait)
	return d
}

// ChannelQuota returns the parsed default channel quota.
func (c *Config) ChannelQuota() int {
	quota, _ := strconv.Atoi(c.DefaultChannelQuota)
	return quota
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
