package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/imedwei/file-backup/internal/catalog"
	"github.com/imedwei/file-backup/internal/metrics"
	"github.com/imedwei/file-backup/internal/snapshot"
)

// Engine runs backups and recoveries of backup configurations. It is safe
// for concurrent use across different configurations; each call runs its
// own attempts with its own backend session and cache directory.
type Engine struct {
	env *Env
}

// NewEngine creates an engine. Unset optional Env fields get defaults.
func NewEngine(env *Env) *Engine {
	return &Engine{env: env.withDefaults()}
}

// Backup takes a snapshot of cfg's local tree. A skipped result means the
// tree matched the last snapshot.
func (e *Engine) Backup(ctx context.Context, cfg catalog.BackupConfig) (*Result, error) {
	strategy, ok := strategyFor(cfg.Mode)
	if !ok {
		return nil, &StopOperation{Reason: "unsupported mode", Err: fmt.Errorf("mode %q", cfg.Mode)}
	}
	info, err := os.Stat(cfg.LocalPath)
	if err != nil {
		return nil, &StopOperation{Reason: "local path unavailable", Err: err}
	}
	if !info.IsDir() {
		return nil, &StopOperation{Reason: "local path unavailable", Err: fmt.Errorf("%s is not a directory", cfg.LocalPath)}
	}

	start := time.Now()
	logger := e.env.Logger.With("name", cfg.Name, "mode", string(cfg.Mode))
	logger.Info("Starting backup", "path", cfg.LocalPath)

	var result *Result
	err = e.run(ctx, cfg, accessWrite, func(ctx context.Context, a *Attempt) error {
		res, err := strategy.Backup(ctx, a)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	metrics.RecordAttempt("backup", string(cfg.Mode), err == nil)
	if err != nil {
		logger.Error("Backup failed", "error", err)
		return nil, err
	}
	metrics.BackupDuration.WithLabelValues("total").Observe(time.Since(start).Seconds())

	if result.Skipped {
		metrics.SkippedBackups.WithLabelValues("unchanged").Inc()
		return result, nil
	}

	metrics.SnapshotSize.WithLabelValues(cfg.Name).Set(float64(result.Size))
	metrics.LastBackupTimestamp.WithLabelValues(cfg.Name).Set(result.Record.Timestamp)
	logger.Info("Backup completed",
		"uuid", result.UUID,
		"updates", result.Updates,
		"volumes", result.Volumes,
		"size", result.Size,
		"duration", time.Since(start),
	)
	return result, nil
}

// Recover replaces cfg's local tree with the content of snapshot uuid.
func (e *Engine) Recover(ctx context.Context, cfg catalog.BackupConfig, uuid string) error {
	strategy, ok := strategyFor(cfg.Mode)
	if !ok {
		return &StopOperation{Reason: "unsupported mode", Err: fmt.Errorf("mode %q", cfg.Mode)}
	}

	start := time.Now()
	logger := e.env.Logger.With("name", cfg.Name, "mode", string(cfg.Mode), "uuid", uuid)
	logger.Info("Starting recovery", "path", cfg.LocalPath)

	err := e.run(ctx, cfg, accessRestore, func(ctx context.Context, a *Attempt) error {
		rec, ok := a.Chain.Find(uuid)
		if !ok {
			return &StopOperation{UUID: uuid, Reason: "unknown snapshot", Err: fmt.Errorf("%w: %s", ErrSnapshotNotFound, uuid)}
		}
		stage, err := strategy.Recover(ctx, a, rec)
		if err != nil {
			return err
		}

		a.enter(StateFinalizing)
		if err := ctx.Err(); err != nil {
			return err
		}
		return swapDir(filepath.Clean(cfg.LocalPath), stage)
	})
	metrics.RecordAttempt("recover", string(cfg.Mode), err == nil)
	if err != nil {
		logger.Error("Recovery failed", "error", err)
		return err
	}
	metrics.BackupDuration.WithLabelValues("recover").Observe(time.Since(start).Seconds())
	logger.Info("Recovery completed", "duration", time.Since(start))
	return nil
}

// History returns the snapshot chain of cfg, oldest first. A configuration
// that was never backed up has an empty history.
func (e *Engine) History(ctx context.Context, cfg catalog.BackupConfig) (snapshot.Chain, error) {
	var chain snapshot.Chain
	err := e.run(ctx, cfg, accessRead, func(ctx context.Context, a *Attempt) error {
		chain = a.Chain
		return nil
	})
	return chain, err
}

// LastBackup returns the time of the newest snapshot of cfg, or the zero
// time if there is none.
func (e *Engine) LastBackup(ctx context.Context, cfg catalog.BackupConfig) (time.Time, error) {
	chain, err := e.History(ctx, cfg)
	if err != nil {
		return time.Time{}, err
	}
	last, ok := chain.Last()
	if !ok {
		return time.Time{}, nil
	}
	return last.Time(), nil
}

// run executes fn in a fresh attempt, restarting it on restartable errors up
// to MaxRestarts times.
func (e *Engine) run(ctx context.Context, cfg catalog.BackupConfig, mode access, fn func(context.Context, *Attempt) error) error {
	for restarts := 0; ; restarts++ {
		err := e.attempt(ctx, cfg, mode, fn)
		if err == nil {
			return nil
		}

		reason, ok := restartReason(err)
		if !ok || ctx.Err() != nil {
			return err
		}
		if restarts >= e.env.MaxRestarts {
			return fmt.Errorf("giving up after %d restarts: %w", restarts, err)
		}
		metrics.Restarts.WithLabelValues(reason).Inc()
		e.env.Logger.Warn("Restarting attempt",
			"name", cfg.Name,
			"restart", restarts+1,
			"max_restarts", e.env.MaxRestarts,
			"error", err,
		)
	}
}

// attempt runs fn once. The attempt's resources are released on every exit
// path, including panics in fn.
func (e *Engine) attempt(ctx context.Context, cfg catalog.BackupConfig, mode access, fn func(context.Context, *Attempt) error) (err error) {
	a := newAttempt(e.env, cfg)
	defer a.Release()

	if err := a.prepare(ctx, mode); err != nil {
		a.enter(StateAborted)
		return classify(err, "")
	}

	if err := fn(ctx, a); err != nil {
		return a.abort(ctx, err)
	}

	a.enter(StateDone)
	return nil
}

// IsStopped reports whether err stopped an operation for good, as opposed
// to exhausting its restarts.
func IsStopped(err error) bool {
	var stop *StopOperation
	return errors.As(err, &stop)
}
