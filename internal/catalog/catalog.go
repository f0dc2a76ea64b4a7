// Package catalog stores backup configurations and their run history in
// SQLite.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Mode selects the backup strategy of a configuration.
type Mode string

const (
	ModeIncrement Mode = "increment"
	ModeCompress  Mode = "compress"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(s)); m {
	case ModeIncrement, ModeCompress:
		return m, nil
	}
	return "", fmt.Errorf("invalid backup mode %q (want %s or %s)", s, ModeIncrement, ModeCompress)
}

// BackupConfig describes one directory to back up.
type BackupConfig struct {
	Name      string
	Mode      Mode
	LocalPath string
	Interval  time.Duration // zero means manual only
	CreatedAt time.Time
}

// Validate checks the configuration and makes LocalPath absolute.
func (c *BackupConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("backup name is required")
	}
	mode, err := ParseMode(string(c.Mode))
	if err != nil {
		return err
	}
	c.Mode = mode
	if c.LocalPath == "" {
		return fmt.Errorf("local path is required")
	}
	abs, err := filepath.Abs(c.LocalPath)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", c.LocalPath, err)
	}
	c.LocalPath = abs
	if c.Interval < 0 {
		return fmt.Errorf("interval must not be negative")
	}
	return nil
}

// Run is one finished backup attempt.
type Run struct {
	Name       string
	UUID       string // empty when nothing was uploaded
	Status     string
	FinishedAt time.Time
}

// Run statuses.
const (
	StatusSuccess = "success"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

var (
	// ErrNotFound reports an unknown configuration name.
	ErrNotFound = errors.New("backup config not found")

	// ErrExists reports a duplicate configuration name.
	ErrExists = errors.New("backup config already exists")
)

// Catalog is the SQLite-backed configuration store.
type Catalog struct {
	db      *sql.DB
	writeMu sync.Mutex // Serialize write operations
}

// Open opens or creates the catalog at path.
func Open(path string) (*Catalog, error) {
	dsn := path + "?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	c := &Catalog{db: db}
	if err := c.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate catalog: %w", err)
	}
	return c, nil
}

func (c *Catalog) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS backup_configs (
		name TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		local_path TEXT NOT NULL,
		interval_seconds INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS backup_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		uuid TEXT NOT NULL,
		status TEXT NOT NULL,
		finished_at INTEGER NOT NULL,
		FOREIGN KEY (name) REFERENCES backup_configs(name) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_backup_runs_name ON backup_runs(name, finished_at);
	`

	_, err := c.db.Exec(schema)
	return err
}

// Close closes the catalog.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Ping checks the database connection.
func (c *Catalog) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Add stores a new configuration.
func (c *Catalog) Add(ctx context.Context, cfg BackupConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = time.Now()
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	res, err := c.db.ExecContext(ctx, `
		INSERT INTO backup_configs (name, mode, local_path, interval_seconds, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO NOTHING
	`, cfg.Name, string(cfg.Mode), cfg.LocalPath, int64(cfg.Interval/time.Second), cfg.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to add backup config: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrExists, cfg.Name)
	}
	return nil
}

// Remove deletes a configuration and its run history.
func (c *Catalog) Remove(ctx context.Context, name string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	res, err := c.db.ExecContext(ctx, `DELETE FROM backup_configs WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to remove backup config: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConfig(s scanner) (BackupConfig, error) {
	var (
		cfg       BackupConfig
		mode      string
		interval  int64
		createdAt int64
	)
	if err := s.Scan(&cfg.Name, &mode, &cfg.LocalPath, &interval, &createdAt); err != nil {
		return BackupConfig{}, err
	}
	cfg.Mode = Mode(mode)
	cfg.Interval = time.Duration(interval) * time.Second
	cfg.CreatedAt = time.Unix(createdAt, 0)
	return cfg, nil
}

// Get returns the configuration called name.
func (c *Catalog) Get(ctx context.Context, name string) (BackupConfig, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT name, mode, local_path, interval_seconds, created_at
		FROM backup_configs WHERE name = ?
	`, name)
	cfg, err := scanConfig(row)
	if err == sql.ErrNoRows {
		return BackupConfig{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return BackupConfig{}, fmt.Errorf("failed to get backup config: %w", err)
	}
	return cfg, nil
}

// List returns all configurations sorted by name.
func (c *Catalog) List(ctx context.Context) ([]BackupConfig, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT name, mode, local_path, interval_seconds, created_at
		FROM backup_configs ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list backup configs: %w", err)
	}
	defer rows.Close()

	var configs []BackupConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

// RecordRun appends a finished attempt to the run history.
func (c *Catalog) RecordRun(ctx context.Context, run Run) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO backup_runs (name, uuid, status, finished_at)
		VALUES (?, ?, ?, ?)
	`, run.Name, run.UUID, run.Status, run.FinishedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// LastRun returns the most recent run of name with the given status. The
// boolean is false when there is none.
func (c *Catalog) LastRun(ctx context.Context, name, status string) (Run, bool, error) {
	var (
		run        Run
		finishedAt int64
	)
	err := c.db.QueryRowContext(ctx, `
		SELECT name, uuid, status, finished_at FROM backup_runs
		WHERE name = ? AND status = ?
		ORDER BY finished_at DESC, id DESC LIMIT 1
	`, name, status).Scan(&run.Name, &run.UUID, &run.Status, &finishedAt)
	if err == sql.ErrNoRows {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, fmt.Errorf("failed to query last run: %w", err)
	}
	run.FinishedAt = time.UnixMilli(finishedAt)
	return run, true, nil
}
