package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Server   ServerConfig
	Mailer   MailerConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	URL string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL string
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret string
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
}

// MailerConfig holds mail delivery configuration
type MailerConfig struct {
	// ConfigServiceURL is the base URL of the external configuration service
	// consulted when neither the settings store nor the legacy table has an
	// SMTP configuration for a tenant. Empty disables the lookup.
	ConfigServiceURL string

	// ConfigLookupTimeout bounds the external configuration service call.
	ConfigLookupTimeout time.Duration

	// MaxAttempts is the delivery attempt cap after which a failed message
	// is no longer eligible for retry.
	MaxAttempts int

	// RetryBatchSize caps how many failed messages a single retry trigger
	// invocation processes.
	RetryBatchSize int
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	// Missing .env is fine, plain environment variables still apply.
	_ = godotenv.Load()

	config := &Config{
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		JWT: JWTConfig{
			Secret: os.Getenv("JWT_SECRET"),
		},
		Server: ServerConfig{
			Port: os.Getenv("SERVER_PORT"),
		},
		Mailer: MailerConfig{
			ConfigServiceURL:    os.Getenv("CONFIG_SERVICE_URL"),
			ConfigLookupTimeout: time.Duration(getEnvInt("CONFIG_LOOKUP_TIMEOUT_MS", 1000)) * time.Millisecond,
			MaxAttempts:         getEnvInt("MAILER_MAX_ATTEMPTS", 3),
			RetryBatchSize:      getEnvInt("MAILER_RETRY_BATCH_SIZE", 50),
		},
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// validateConfig validates that required configuration fields are present
func validateConfig(config *Config) error {
	if config.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if config.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if config.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if config.Server.Port == "" {
		config.Server.Port = "8080" // Default port
	}

	if config.Mailer.MaxAttempts < 1 {
		return fmt.Errorf("MAILER_MAX_ATTEMPTS must be at least 1")
	}

	if config.Mailer.RetryBatchSize < 1 {
		return fmt.Errorf("MAILER_RETRY_BATCH_SIZE must be at least 1")
	}

	return nil
}

// getEnvInt reads an integer environment variable with a default
func getEnvInt(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return value
}
