// Package scheduler runs due backups of every catalog configuration.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/imedwei/file-backup/internal/backup"
	"github.com/imedwei/file-backup/internal/catalog"
	"github.com/imedwei/file-backup/internal/metrics"
	"github.com/imedwei/file-backup/internal/ratelimit"
)

// DefaultTick is how often configurations are checked.
const DefaultTick = time.Minute

// Store is the part of the catalog the scheduler uses.
type Store interface {
	List(ctx context.Context) ([]catalog.BackupConfig, error)
	RecordRun(ctx context.Context, run catalog.Run) error
	LastRun(ctx context.Context, name, status string) (catalog.Run, bool, error)
}

// Runner runs backups. *backup.Engine implements it.
type Runner interface {
	Backup(ctx context.Context, cfg catalog.BackupConfig) (*backup.Result, error)
	LastBackup(ctx context.Context, cfg catalog.BackupConfig) (time.Time, error)
}

// Host checks all configurations on every tick and starts a backup for
// each one that is due and not already running. Backups of different
// configurations run concurrently.
type Host struct {
	store  Store
	runner Runner
	logger *slog.Logger
	tick   time.Duration
	now    func() time.Time

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group

	mu      sync.Mutex
	running map[string]struct{}
	last    map[string]time.Time
}

// NewHost creates a scheduler. A tick of zero uses DefaultTick.
func NewHost(store Store, runner Runner, tick time.Duration, logger *slog.Logger) *Host {
	if tick <= 0 {
		tick = DefaultTick
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Host{
		store:   store,
		runner:  runner,
		logger:  logger.With("component", "scheduler"),
		tick:    tick,
		now:     time.Now,
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		ctx:     ctx,
		cancel:  cancel,
		running: make(map[string]struct{}),
		last:    make(map[string]time.Time),
	}
}

// Start schedules the periodic check and runs the first one immediately.
func (h *Host) Start() error {
	if _, err := h.cron.AddFunc(fmt.Sprintf("@every %s", h.tick), h.Tick); err != nil {
		return fmt.Errorf("failed to schedule tick: %w", err)
	}
	h.cron.Start()
	h.logger.Info("Scheduler started", "tick", h.tick)
	h.group.Go(func() error {
		h.Tick()
		return nil
	})
	return nil
}

// Stop stops scheduling, cancels running backups and waits for them to
// return or for ctx to expire.
func (h *Host) Stop(ctx context.Context) error {
	cronDone := h.cron.Stop()
	h.cancel()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		_ = h.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler did not stop in time: %w", ctx.Err())
	}
}

// Tick checks every configuration once.
func (h *Host) Tick() {
	if h.ctx.Err() != nil {
		return
	}
	configs, err := h.store.List(h.ctx)
	if err != nil {
		h.logger.Error("Failed to list backup configs", "error", err)
		return
	}

	for _, cfg := range configs {
		if h.isRunning(cfg.Name) {
			h.logger.Debug("Backup still running", "name", cfg.Name)
			continue
		}

		last, err := h.lastRun(cfg)
		if err != nil {
			h.logger.Warn("Failed to determine last backup, backing up now", "name", cfg.Name, "error", err)
		}

		limiter := ratelimit.NewTimeBasedLimiter(ratelimit.Config{MinInterval: cfg.Interval, Now: h.now})
		ok, reason := limiter.ShouldBackup(last)
		if !ok {
			if next, scheduled := limiter.NextBackup(last); scheduled {
				metrics.SkippedBackups.WithLabelValues("interval").Inc()
				h.logger.Debug("Backup not due", "name", cfg.Name, "reason", reason, "next", next)
			}
			continue
		}

		h.logger.Info("Backup due", "name", cfg.Name, "reason", reason)
		h.launch(cfg)
	}
}

func (h *Host) isRunning(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.running[name]
	return ok
}

// lastRun returns the time of the last successful or skipped run of cfg,
// consulting the memo, then the run history, then the remote chain.
func (h *Host) lastRun(cfg catalog.BackupConfig) (time.Time, error) {
	h.mu.Lock()
	t, ok := h.last[cfg.Name]
	h.mu.Unlock()
	if ok {
		return t, nil
	}

	var latest time.Time
	for _, status := range []string{catalog.StatusSuccess, catalog.StatusSkipped} {
		run, found, err := h.store.LastRun(h.ctx, cfg.Name, status)
		if err != nil {
			return time.Time{}, err
		}
		if found && run.FinishedAt.After(latest) {
			latest = run.FinishedAt
		}
	}
	if latest.IsZero() {
		var err error
		if latest, err = h.runner.LastBackup(h.ctx, cfg); err != nil {
			return time.Time{}, err
		}
	}

	h.remember(cfg.Name, latest)
	return latest, nil
}

func (h *Host) remember(name string, t time.Time) {
	h.mu.Lock()
	h.last[name] = t
	h.mu.Unlock()
}

// launch starts a backup of cfg in the background.
func (h *Host) launch(cfg catalog.BackupConfig) {
	h.mu.Lock()
	h.running[cfg.Name] = struct{}{}
	h.mu.Unlock()

	h.group.Go(func() error {
		defer func() {
			h.mu.Lock()
			delete(h.running, cfg.Name)
			h.mu.Unlock()
		}()
		h.runOne(cfg)
		return nil
	})
}

func (h *Host) runOne(cfg catalog.BackupConfig) {
	run := catalog.Run{Name: cfg.Name}
	res, err := h.runner.Backup(h.ctx, cfg)
	run.FinishedAt = h.now()

	switch {
	case err != nil:
		run.Status = catalog.StatusFailed
		h.logger.Error("Scheduled backup failed", "name", cfg.Name, "error", err)
	case res.Skipped:
		run.Status = catalog.StatusSkipped
		h.remember(cfg.Name, run.FinishedAt)
	default:
		run.Status = catalog.StatusSuccess
		run.UUID = res.UUID
		h.remember(cfg.Name, run.FinishedAt)
	}

	// Record the outcome even when shutting down.
	if err := h.store.RecordRun(context.WithoutCancel(h.ctx), run); err != nil {
		h.logger.Warn("Failed to record run", "name", cfg.Name, "error", err)
	}
}
