package backup

import (
	"context"
	"time"

	"github.com/imedwei/file-backup/internal/metrics"
	"github.com/imedwei/file-backup/internal/snapshot"
)

// compressStrategy archives the whole tree on every run and ignores history.
type compressStrategy struct{}

func (compressStrategy) Backup(ctx context.Context, a *Attempt) (*Result, error) {
	a.enter(StateExecuting)

	id, err := a.NewSnapshotID()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	volumes, size, err := a.Upload(ctx, a.Config.LocalPath)
	if err != nil {
		return nil, err
	}
	metrics.BackupDuration.WithLabelValues("upload").Observe(time.Since(start).Seconds())

	rec := a.NewRecord()
	if err := a.Commit(ctx, rec); err != nil {
		return nil, err
	}
	return &Result{
		Name:    a.Config.Name,
		UUID:    id,
		Record:  rec,
		Volumes: volumes,
		Size:    size,
	}, nil
}

func (compressStrategy) Recover(ctx context.Context, a *Attempt, rec snapshot.Record) (string, error) {
	a.enter(StateExecuting)

	stage, err := a.StagingDir()
	if err != nil {
		return "", err
	}

	start := time.Now()
	if err := a.Download(ctx, rec.UUID, stage); err != nil {
		return "", err
	}
	metrics.BackupDuration.WithLabelValues("download").Observe(time.Since(start).Seconds())
	return stage, nil
}
