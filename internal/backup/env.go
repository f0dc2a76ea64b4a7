package backup

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/imedwei/file-backup/internal/archive"
	"github.com/imedwei/file-backup/internal/codec"
	"github.com/imedwei/file-backup/internal/config"
	"github.com/imedwei/file-backup/internal/snapshot"
	"github.com/imedwei/file-backup/internal/storage"
)

// Opener opens a fresh backend session. Each attempt opens its own.
type Opener func(ctx context.Context) (*storage.Backend, error)

// Env carries everything the engine needs. It is built once per process and
// shared read-only by concurrent attempts.
type Env struct {
	Logger      *slog.Logger
	Open        Opener
	Archiver    archive.Archiver
	Codec       *snapshot.Codec
	CacheRoot   string
	VolumeSize  int64
	Workers     int
	MaxRestarts int

	// Now and NewUUID default to time.Now and random uuids.
	Now     func() time.Time
	NewUUID func() string
}

// NewEnv builds an Env from process configuration.
func NewEnv(cfg *config.Config, logger *slog.Logger) *Env {
	return &Env{
		Logger: logger,
		Open: func(ctx context.Context) (*storage.Backend, error) {
			return storage.Open(ctx, cfg, logger)
		},
		Archiver:    archive.NewVolumeArchiver(logger),
		Codec:       snapshot.NewCodec(codec.NewObfuscator(cfg.ObfuscationKey)),
		CacheRoot:   cfg.CacheDir,
		VolumeSize:  cfg.VolumeSize(),
		Workers:     cfg.Workers,
		MaxRestarts: cfg.MaxRestarts,
	}
}

// withDefaults fills unset optional fields.
func (e Env) withDefaults() *Env {
	if e.Logger == nil {
		e.Logger = slog.Default()
	}
	if e.CacheRoot == "" {
		e.CacheRoot = filepath.Join(os.TempDir(), "file-backup")
	}
	if e.Workers <= 0 {
		e.Workers = 8
	}
	if e.MaxRestarts < 0 {
		e.MaxRestarts = 0
	}
	if e.Now == nil {
		e.Now = time.Now
	}
	if e.NewUUID == nil {
		e.NewUUID = uuid.NewString
	}
	if e.Archiver == nil {
		e.Archiver = archive.NewVolumeArchiver(e.Logger)
	}
	return &e
}
