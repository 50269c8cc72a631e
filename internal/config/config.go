package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port               string
	PublicBaseURL      string
	RateLimitPerMinute int

	// Database
	SQLiteDBPath string

	// Change feed
	FeedBackend  string
	AMQPURL      string
	AMQPExchange string

	// Object store
	BlobBackend              string
	BlobBucket               string
	MaxUploadBytes           int64
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string

	// User lookups
	UserCacheSize int
	UserCacheTTL  time.Duration

	// Orphan reconciler
	OrphanScanSchedule string
	OrphanGracePeriod  time.Duration
	OrphanDelete       bool

	// Automation webhook
	WebhookURL     string
	WebhookTimeout time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

const DefaultMaxUploadBytes = 5 << 20

func Load() *Config {
	cfg := &Config{
		Port:          getEnv("PORT", "8081"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:8081"),

		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/expenses.db"),

		FeedBackend:  getEnv("FEED_BACKEND", "memory"),
		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "expenses"),

		BlobBackend:              getEnv("BLOB_BACKEND", "memory"),
		BlobBucket:               getEnv("BLOB_BUCKET", "expense-images"),
		MaxUploadBytes:           int64(getEnvInt("MAX_UPLOAD_BYTES", DefaultMaxUploadBytes)),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")),

		UserCacheSize: getEnvInt("USER_CACHE_SIZE", 256),
		UserCacheTTL:  getEnvDuration("USER_CACHE_TTL", 10*time.Minute),

		OrphanScanSchedule: getEnv("ORPHAN_SCAN_SCHEDULE", "@hourly"),
		OrphanGracePeriod:  getEnvDuration("ORPHAN_GRACE_PERIOD", 24*time.Hour),
		OrphanDelete:       getEnvBool("ORPHAN_DELETE", false),

		WebhookURL:     getEnv("WEBHOOK_URL", ""),
		WebhookTimeout: getEnvDuration("WEBHOOK_TIMEOUT", 30*time.Second),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.RateLimitPerMinute < 0 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must not be negative", c.RateLimitPerMinute))
	}

	if u, err := url.Parse(c.PublicBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errors = append(errors, fmt.Sprintf("invalid public base URL '%s'", c.PublicBaseURL))
	}

	// Validate SQLite path
	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else if c.SQLiteDBPath != ":memory:" {
		dir := filepath.Dir(c.SQLiteDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	// Validate feed backend
	if !oneOf(c.FeedBackend, "memory", "amqp") {
		errors = append(errors, fmt.Sprintf("invalid feed backend '%s': must be one of [memory amqp]", c.FeedBackend))
	}
	if c.FeedBackend == "amqp" {
		if c.AMQPURL == "" {
			errors = append(errors, "AMQP URL is required when using amqp feed backend")
		} else if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when using amqp feed backend")
		}
	}

	// Validate blob backend
	if !oneOf(c.BlobBackend, "memory", "gcs") {
		errors = append(errors, fmt.Sprintf("invalid blob backend '%s': must be one of [memory gcs]", c.BlobBackend))
	}
	if c.BlobBucket == "" {
		errors = append(errors, "blob bucket cannot be empty")
	}
	if c.BlobBackend == "gcs" {
		hasJSON := c.GoogleServiceAccountJSON != ""
		hasFile := c.GoogleServiceAccountFile != ""
		if !hasJSON && !hasFile {
			errors = append(errors, "either GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE must be provided for gcs backend")
		}
		if hasFile && !hasJSON {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	}
	if c.MaxUploadBytes < 1 {
		errors = append(errors, fmt.Sprintf("invalid max upload bytes %d: must be positive", c.MaxUploadBytes))
	}

	// Validate caches
	if c.UserCacheSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid user cache size %d: must be at least 1", c.UserCacheSize))
	}
	if c.UserCacheTTL <= 0 {
		errors = append(errors, fmt.Sprintf("invalid user cache TTL %v: must be positive", c.UserCacheTTL))
	}

	// Validate reconciler
	if strings.TrimSpace(c.OrphanScanSchedule) == "" {
		errors = append(errors, "orphan scan schedule cannot be empty")
	}
	if c.OrphanGracePeriod < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid orphan grace period %v: must be at least 1 minute", c.OrphanGracePeriod))
	}

	// Validate webhook
	if c.WebhookURL != "" {
		if u, err := url.Parse(c.WebhookURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errors = append(errors, fmt.Sprintf("invalid webhook URL '%s': must be http or https", c.WebhookURL))
		}
	}
	if c.WebhookTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("invalid webhook timeout %v: must be positive", c.WebhookTimeout))
	}

	if !oneOf(strings.ToLower(c.LogFormat), "text", "json") {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be one of [text json]", c.LogFormat))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
