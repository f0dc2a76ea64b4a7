// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config holds all process-level configuration. Per-directory backup
// definitions live in the catalog, not here.
type Config struct {
	// Backend selection
	BackendMode string // "local", "server", "s3" or "gcs"

	// Local backend
	LocalBackendPath string

	// HTTP storage server backend
	ServerURL    string
	ServerToken  string
	ServerAPIKey string

	// S3 configuration
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	S3Bucket           string
	S3Region           string
	S3Endpoint         string // Optional custom endpoint
	S3Prefix           string

	// GCS configuration
	GCSBucket                string
	GoogleProjectID          string
	GoogleServiceAccountJSON string
	GCSPrefix                string

	// Engine options
	CacheDir       string
	CatalogPath    string
	ObfuscationKey string
	VolumeSizeMB   int
	TransferMaxTry int
	MaxRestarts    int
	Workers        int

	// Host options
	MetricsPort int
	LogLevel    string

	// Storage server (serve-storage)
	StorageServerRoot string
	StorageServerAddr string
}

// Load reads configuration from environment variables. Backend settings are
// checked separately by ValidateBackend, since not every command needs one.
func Load() (*Config, error) {
	cfg := &Config{
		BackendMode:      strings.ToLower(os.Getenv("BACKEND_MODE")),
		LocalBackendPath: os.Getenv("LOCAL_BACKEND_PATH"),

		// Server
		ServerURL:    os.Getenv("SERVER_URL"),
		ServerToken:  os.Getenv("SERVER_TOKEN"),
		ServerAPIKey: os.Getenv("SERVER_API_KEY"),

		// S3
		AWSAccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		AWSSecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		S3Bucket:           os.Getenv("S3_BUCKET"),
		S3Region:           os.Getenv("S3_REGION"),
		S3Endpoint:         os.Getenv("S3_ENDPOINT"),
		S3Prefix:           os.Getenv("S3_PREFIX"),

		// GCS
		GCSBucket:                os.Getenv("GCS_BUCKET"),
		GoogleProjectID:          os.Getenv("GOOGLE_PROJECT_ID"),
		GoogleServiceAccountJSON: os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"),
		GCSPrefix:                os.Getenv("GCS_PREFIX"),

		CacheDir:       getEnv("CACHE_DIR", filepath.Join(os.TempDir(), "file-backup")),
		CatalogPath:    getEnv("CATALOG_PATH", "file-backup.db"),
		ObfuscationKey: getEnv("OBFUSCATION_KEY", "file-backup"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),

		StorageServerRoot: getEnv("STORAGE_SERVER_ROOT", "storage"),
		StorageServerAddr: getEnv("STORAGE_SERVER_ADDR", ":8765"),
	}

	cfg.VolumeSizeMB = getEnvInt("VOLUME_SIZE_MB", 100)
	cfg.TransferMaxTry = getEnvInt("TRANSFER_MAX_TRY", 3)
	cfg.MaxRestarts = getEnvInt("MAX_RESTARTS", 3)
	cfg.Workers = getEnvInt("HASH_WORKERS", 8)
	cfg.MetricsPort = getEnvInt("METRICS_PORT", 0) // 0 disables the metrics server

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the settings every command depends on.
func (c *Config) Validate() error {
	if c.VolumeSizeMB <= 0 {
		return fmt.Errorf("VOLUME_SIZE_MB must be positive")
	}
	if c.TransferMaxTry <= 0 {
		return fmt.Errorf("TRANSFER_MAX_TRY must be positive")
	}
	if c.MaxRestarts < 0 {
		return fmt.Errorf("MAX_RESTARTS must be non-negative")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("HASH_WORKERS must be positive")
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("METRICS_PORT must be between 0 and 65535")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ValidateBackend checks the settings of the selected backend.
func (c *Config) ValidateBackend() error {
	switch c.BackendMode {
	case "":
		return fmt.Errorf("BACKEND_MODE is required")
	case "local":
		if c.LocalBackendPath == "" {
			return fmt.Errorf("LOCAL_BACKEND_PATH is required for local backend")
		}
	case "server":
		return c.validateServer()
	case "s3":
		return c.validateS3()
	case "gcs":
		return c.validateGCS()
	default:
		return fmt.Errorf("invalid BACKEND_MODE: %s (must be 'local', 'server', 's3' or 'gcs')", c.BackendMode)
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.ServerURL == "" {
		return fmt.Errorf("SERVER_URL is required for server backend")
	}
	if !strings.HasPrefix(c.ServerURL, "http://") && !strings.HasPrefix(c.ServerURL, "https://") {
		return fmt.Errorf("SERVER_URL must be an http(s) URL")
	}
	if c.ServerToken == "" {
		return fmt.Errorf("SERVER_TOKEN is required for server backend")
	}
	if c.ServerAPIKey == "" {
		return fmt.Errorf("SERVER_API_KEY is required for server backend")
	}
	return nil
}

func (c *Config) validateS3() error {
	if c.AWSAccessKeyID == "" {
		return fmt.Errorf("AWS_ACCESS_KEY_ID is required for S3 storage")
	}
	if c.AWSSecretAccessKey == "" {
		return fmt.Errorf("AWS_SECRET_ACCESS_KEY is required for S3 storage")
	}
	if c.S3Bucket == "" {
		return fmt.Errorf("S3_BUCKET is required for S3 storage")
	}
	if c.S3Region == "" && c.S3Endpoint == "" {
		return fmt.Errorf("S3_REGION is required for S3 storage (unless S3_ENDPOINT is set)")
	}
	return nil
}

func (c *Config) validateGCS() error {
	if c.GCSBucket == "" {
		return fmt.Errorf("GCS_BUCKET is required for GCS storage")
	}
	if c.GoogleProjectID == "" {
		return fmt.Errorf("GOOGLE_PROJECT_ID is required for GCS storage")
	}
	if c.GoogleServiceAccountJSON == "" {
		return fmt.Errorf("GOOGLE_SERVICE_ACCOUNT_JSON is required for GCS storage")
	}
	return nil
}

// VolumeSize returns the archive volume size in bytes.
func (c *Config) VolumeSize() int64 {
	return int64(c.VolumeSizeMB) * 1024 * 1024
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	level, _ := parseLevel(c.LogLevel)
	return level
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL: %s", s)
}

// getEnv gets a string from environment variable with a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer from environment variable with a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
