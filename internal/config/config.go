package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/smartmed/interaction-engine/internal/models"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Port  string
	Debug bool

	// Caller authentication
	JWTSecret string

	// Sweep schedule configuration
	SweepSchedule string // "daily" or "hourly"
	TimeZone      string

	// Azure Storage configuration (empty account selects the in-memory store)
	StorageAccount   string
	StorageContainer string

	// Knowledge source configuration
	EnableRxNav       bool
	RxNavBaseURL      string
	RxNavTimeout      time.Duration
	ReferenceDataPath string

	// Lookup behavior
	MaxConcurrentLookups int
	LookupRetries        int
	LookupBackoff        time.Duration

	// Sweep behavior
	SweepConcurrency int

	// Alerting
	AlertThreshold models.Severity

	// Notification configuration
	PushGatewayURL   string
	PushGatewayToken string
	DigestEmail      string
	SMTPHost         string
	SMTPPort         int
	SMTPUsername     string
	SMTPPassword     string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	threshold, ok := models.ParseSeverity(getEnv("ALERT_THRESHOLD", "medium"))
	if !ok {
		return nil, fmt.Errorf("ALERT_THRESHOLD must be one of none, low, medium, high, critical")
	}

	cfg := &Config{
		Port:      getEnv("PORT", "8080"),
		Debug:     getBoolEnv("DEBUG", false),
		JWTSecret: getEnv("JWT_SECRET", ""),

		SweepSchedule: getEnv("SWEEP_SCHEDULE", "daily"),
		TimeZone:      getEnv("TIMEZONE", "America/New_York"),

		StorageAccount:   getEnv("AZURE_STORAGE_ACCOUNT", ""),
		StorageContainer: getEnv("AZURE_STORAGE_CONTAINER", "profiles"),

		EnableRxNav:       getBoolEnv("ENABLE_RXNAV", true),
		RxNavBaseURL:      getEnv("RXNAV_BASE_URL", "https://rxnav.nlm.nih.gov"),
		RxNavTimeout:      getDurationEnv("RXNAV_TIMEOUT_MS", 10*time.Second),
		ReferenceDataPath: getEnv("REFERENCE_DATA_PATH", ""),

		MaxConcurrentLookups: getIntEnv("MAX_CONCURRENT_LOOKUPS", 8),
		LookupRetries:        getIntEnv("LOOKUP_RETRIES", 2),
		LookupBackoff:        getDurationEnv("LOOKUP_BACKOFF_MS", 250*time.Millisecond),

		SweepConcurrency: getIntEnv("SWEEP_CONCURRENCY", 4),

		AlertThreshold: threshold,

		PushGatewayURL:   getEnv("PUSH_GATEWAY_URL", ""),
		PushGatewayToken: getEnv("PUSH_GATEWAY_TOKEN", ""),
		DigestEmail:      getEnv("DIGEST_EMAIL", ""),
		SMTPHost:         getEnv("SMTP_HOST", ""),
		SMTPPort:         getIntEnv("SMTP_PORT", 587),
		SMTPUsername:     getEnv("SMTP_USERNAME", ""),
		SMTPPassword:     getEnv("SMTP_PASSWORD", ""),
	}

	// Validate required configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.SweepSchedule != "daily" && c.SweepSchedule != "hourly" {
		return fmt.Errorf("SWEEP_SCHEDULE must be 'daily' or 'hourly'")
	}

	if c.MaxConcurrentLookups < 1 {
		return fmt.Errorf("MAX_CONCURRENT_LOOKUPS must be at least 1")
	}

	if c.SweepConcurrency < 1 {
		return fmt.Errorf("SWEEP_CONCURRENCY must be at least 1")
	}

	if c.DigestEmail != "" {
		if c.SMTPHost == "" || c.SMTPUsername == "" || c.SMTPPassword == "" {
			return fmt.Errorf("SMTP configuration is required when DIGEST_EMAIL is set")
		}
	}

	return nil
}

// Helper functions for environment variable parsing
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

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && parsed >= 0 {
			return time.Duration(parsed) * time.Millisecond
		}
	}
	return defaultValue
}
