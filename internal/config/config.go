package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment         string
	EncryptionKeyBase64 string
	DatabaseHost        string
	DatabaseName        string
	DatabaseMinPoolSize int
	DatabaseMaxPoolSize int
	Port                string
	MetricsPort         string

	WorkersNum                int
	MaxConnectionsPerProvider int

	IMAPTimeout            time.Duration
	IMAPIdleTimeout        time.Duration
	IMAPProviders          []string
	MaxConsecutiveFailures int

	WebhookTimeout    time.Duration
	WebhookMaxRetries int
}

func NewConfig() (*Config, error) {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	config := &Config{
		Environment:         env,
		EncryptionKeyBase64: os.Getenv("ENCRYPTION_KEY_BASE64"),
		DatabaseHost:        getEnvOrDefault("DATABASE_HOST", "postgresql://localhost:5432"),
		DatabaseName:        getEnvOrDefault("DATABASE_NAME", "nolas"),
		DatabaseMinPoolSize: getEnvIntOrDefault("DATABASE_MIN_POOL_SIZE", 5),
		DatabaseMaxPoolSize: getEnvIntOrDefault("DATABASE_MAX_POOL_SIZE", 20),
		Port:                getEnvOrDefault("PORT", "8080"),
		MetricsPort:         getEnvOrDefault("METRICS_PORT", "9090"),

		WorkersNum:                getEnvIntOrDefault("WORKERS_NUM", 2),
		MaxConnectionsPerProvider: getEnvIntOrDefault("WORKER_MAX_CONNECTIONS_PER_PROVIDER", 50),

		IMAPTimeout:            getEnvSecondsOrDefault("IMAP_TIMEOUT", 300),
		IMAPIdleTimeout:        getEnvSecondsOrDefault("IMAP_IDLE_TIMEOUT", 1740),
		IMAPProviders:          getEnvListOrDefault("IMAP_PROVIDERS", []string{"imap.purelymail.com"}),
		MaxConsecutiveFailures: getEnvIntOrDefault("IMAP_MAX_CONSECUTIVE_FAILURES", 20),

		WebhookTimeout:    getEnvSecondsOrDefault("WEBHOOK_TIMEOUT", 30),
		WebhookMaxRetries: getEnvIntOrDefault("WEBHOOK_MAX_RETRIES", 5),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.EncryptionKeyBase64 == "" {
		return fmt.Errorf("ENCRYPTION_KEY_BASE64 is required")
	}

	key, err := base64.StdEncoding.DecodeString(c.EncryptionKeyBase64)
	if err != nil {
		return fmt.Errorf("ENCRYPTION_KEY_BASE64 is not valid base64: %w", err)
	}
	if len(key) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY_BASE64 must decode to 32 bytes, got %d", len(key))
	}

	if err := validatePort("PORT", c.Port); err != nil {
		return err
	}
	if err := validatePort("METRICS_PORT", c.MetricsPort); err != nil {
		return err
	}

	if c.DatabaseMinPoolSize < 1 || c.DatabaseMaxPoolSize < c.DatabaseMinPoolSize {
		return fmt.Errorf("invalid database pool sizes: min=%d max=%d", c.DatabaseMinPoolSize, c.DatabaseMaxPoolSize)
	}

	if c.WorkersNum < 1 {
		return fmt.Errorf("WORKERS_NUM must be at least 1")
	}

	if c.MaxConnectionsPerProvider < 1 {
		return fmt.Errorf("WORKER_MAX_CONNECTIONS_PER_PROVIDER must be at least 1")
	}

	return nil
}

func validatePort(name, value string) error {
	port, err := strconv.Atoi(value)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("%s is not a valid port number: %q", name, value)
	}
	return nil
}

// GetDatabaseURL combines the host URL with the database name. DATABASE_HOST
// carries scheme, credentials and port, matching the deployment convention.
func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf("%s/%s", strings.TrimRight(c.DatabaseHost, "/"), c.DatabaseName)
}

// AllowsProvider reports whether the given IMAP host is on the allowlist.
func (c *Config) AllowsProvider(host string) bool {
	for _, p := range c.IMAPProviders {
		if strings.EqualFold(p, host) {
			return true
		}
	}
	return false
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		fmt.Printf("Warning: invalid value for %s, using default %d\n", key, defaultValue)
		return defaultValue
	}
	return n
}

func getEnvSecondsOrDefault(key string, defaultSeconds int) time.Duration {
	return time.Duration(getEnvIntOrDefault(key, defaultSeconds)) * time.Second
}

func getEnvListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
