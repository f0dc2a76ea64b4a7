package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/imedwei/file-backup/internal/config"
)

// Mode names a storage provider.
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeServer Mode = "server"
	ModeS3     Mode = "s3"
	ModeGCS    Mode = "gcs"
)

// Constructor builds a provider from process configuration.
type Constructor func(ctx context.Context, cfg *config.Config) (Driver, error)

// registry maps each mode to its provider. It is fixed at compile time.
var registry = map[Mode]Constructor{
	ModeLocal: func(ctx context.Context, cfg *config.Config) (Driver, error) {
		return NewLocalDriver(cfg.LocalBackendPath)
	},
	ModeServer: func(ctx context.Context, cfg *config.Config) (Driver, error) {
		return NewServerDriver(ServerConfig{
			URL:    cfg.ServerURL,
			Token:  cfg.ServerToken,
			APIKey: cfg.ServerAPIKey,
		})
	},
	ModeS3: func(ctx context.Context, cfg *config.Config) (Driver, error) {
		return NewS3Driver(ctx, S3Config{
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			Endpoint:        cfg.S3Endpoint,
			Prefix:          cfg.S3Prefix,
			UsePathStyle:    cfg.S3Endpoint != "", // Use path style for custom endpoints
			Concurrency:     cfg.Workers,
		})
	},
	ModeGCS: func(ctx context.Context, cfg *config.Config) (Driver, error) {
		// Validate service account JSON
		if err := ValidateServiceAccountJSON(cfg.GoogleServiceAccountJSON); err != nil {
			return nil, fmt.Errorf("invalid GCS service account: %w", err)
		}
		return NewGCSDriver(ctx, GCSConfig{
			Bucket:             cfg.GCSBucket,
			ProjectID:          cfg.GoogleProjectID,
			ServiceAccountJSON: cfg.GoogleServiceAccountJSON,
			Prefix:             cfg.GCSPrefix,
		})
	},
}

// Modes returns the registered backend modes.
func Modes() []Mode {
	modes := make([]Mode, 0, len(registry))
	for m := range registry {
		modes = append(modes, m)
	}
	sort.Slice(modes, func(i, j int) bool { return modes[i] < modes[j] })
	return modes
}

// Open creates and probes the configured provider and wraps it in a Backend.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backend, error) {
	mode := Mode(cfg.BackendMode)
	ctor, ok := registry[mode]
	if !ok {
		return nil, fmt.Errorf("%w: %q (supported: %v)", ErrUnknownMode, cfg.BackendMode, Modes())
	}

	driver, err := ctor(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s backend: %w", mode, err)
	}

	if err := driver.Probe(ctx); err != nil {
		_ = driver.Close()
		return nil, fmt.Errorf("%s backend is not available: %w", mode, err)
	}

	retry := DefaultRetryConfig()
	if cfg.TransferMaxTry > 0 {
		retry.MaxAttempts = cfg.TransferMaxTry
	}
	return NewBackend(driver, string(mode), retry, logger), nil
}
