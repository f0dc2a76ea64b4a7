package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/imedwei/file-backup/internal/metrics"
)

// RetryConfig holds retry configuration for file transfers.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
}

// Backend is a storage session. It wraps a Driver with per-call transfer
// retries, a mkdir memo and default recursive tree transfers. A Backend is
// owned by one attempt and must be closed by it.
type Backend struct {
	driver   Driver
	provider string
	retry    RetryConfig
	logger   *slog.Logger

	mu      sync.Mutex
	created map[string]struct{}
	closed  bool
}

// NewBackend wraps driver. provider labels metrics and logs.
func NewBackend(driver Driver, provider string, retry RetryConfig, logger *slog.Logger) *Backend {
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	return &Backend{
		driver:   driver,
		provider: provider,
		retry:    retry,
		logger:   logger.With("component", "storage", "provider", provider),
		created:  make(map[string]struct{}),
	}
}

// Provider returns the backend mode name.
func (b *Backend) Provider() string {
	return b.provider
}

// Clean normalizes a remote path to the relative slash form drivers expect.
func Clean(remote string) string {
	p := path.Clean("/" + strings.ReplaceAll(remote, `\`, "/"))
	return strings.TrimPrefix(p, "/")
}

func (b *Backend) checkOpen() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

func (b *Backend) record(op string, err error) {
	metrics.RecordStorageOperation(op, b.provider, err == nil)
}

// Mkdir creates remote once per Backend lifetime.
func (b *Backend) Mkdir(ctx context.Context, remote string) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	key := Clean(remote)

	b.mu.Lock()
	_, done := b.created[key]
	b.mu.Unlock()
	if done {
		return nil
	}

	err := b.driver.Mkdir(ctx, key)
	b.record("mkdir", err)
	if err != nil {
		return &Error{Op: "mkdir", Path: key, Attempts: 1, Err: err}
	}

	b.mu.Lock()
	b.created[key] = struct{}{}
	b.mu.Unlock()
	return nil
}

// Rmdir removes remote recursively and forgets memoized directories below it.
func (b *Backend) Rmdir(ctx context.Context, remote string) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	key := Clean(remote)

	err := b.driver.Rmdir(ctx, key)
	b.record("rmdir", err)

	b.mu.Lock()
	for dir := range b.created {
		if key == "" || dir == key || strings.HasPrefix(dir, key+"/") {
			delete(b.created, dir)
		}
	}
	b.mu.Unlock()

	if err != nil {
		return &Error{Op: "rmdir", Path: key, Attempts: 1, Err: err}
	}
	return nil
}

// ListDir lists remote sorted by kind, then name.
func (b *Backend) ListDir(ctx context.Context, remote string) ([]Entry, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	key := Clean(remote)

	entries, err := b.driver.ListDir(ctx, key)
	b.record("list_dir", err)
	if err != nil {
		return nil, &Error{Op: "list_dir", Path: key, Attempts: 1, Err: err}
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Kind != entries[j].Kind {
			return entries[i].Kind < entries[j].Kind
		}
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

// GetFile downloads remote to local, restarting the whole transfer on failure.
func (b *Backend) GetFile(ctx context.Context, local, remote string) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	key := Clean(remote)

	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return fmt.Errorf("failed to create local directory: %w", err)
	}

	return b.transfer(ctx, "get_file", key, func() error {
		return b.driver.GetFile(ctx, local, key)
	})
}

// PutFile uploads local to remote, restarting the whole transfer on failure.
func (b *Backend) PutFile(ctx context.Context, local, remote string) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	key := Clean(remote)

	info, err := os.Stat(local)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", local, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", local)
	}

	if parent := path.Dir(key); parent != "." {
		if err := b.Mkdir(ctx, parent); err != nil {
			return err
		}
	}

	return b.transfer(ctx, "put_file", key, func() error {
		return b.driver.PutFile(ctx, local, key)
	})
}

// transfer runs fn up to MaxAttempts times with exponential backoff.
func (b *Backend) transfer(ctx context.Context, op, key string, fn func() error) error {
	delay := b.retry.InitialDelay
	var err error

	for attempt := 1; attempt <= b.retry.MaxAttempts; attempt++ {
		err = fn()
		b.record(op, err)
		if err == nil {
			return nil
		}

		// Missing files and cancellation are not transient.
		if errors.Is(err, ErrNotExist) || ctx.Err() != nil {
			return &Error{Op: op, Path: key, Attempts: attempt, Err: err}
		}

		if attempt == b.retry.MaxAttempts {
			break
		}

		b.logger.Warn("Transfer failed, retrying",
			"operation", op,
			"path", key,
			"attempt", attempt,
			"error", err,
		)
		metrics.TransferRetries.WithLabelValues(op, b.provider).Inc()

		select {
		case <-ctx.Done():
			return &Error{Op: op, Path: key, Attempts: attempt, Err: ctx.Err()}
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * b.retry.Multiplier)
		if delay > b.retry.MaxDelay {
			delay = b.retry.MaxDelay
		}
	}

	return &Error{Op: op, Path: key, Attempts: b.retry.MaxAttempts, Err: err}
}

// GetTree downloads the remote directory into local.
func (b *Backend) GetTree(ctx context.Context, local, remote string) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	key := Clean(remote)

	if td, ok := b.driver.(TreeDriver); ok {
		err := td.GetTree(ctx, local, key)
		b.record("get_tree", err)
		if err != nil {
			return &Error{Op: "get_tree", Path: key, Attempts: 1, Err: err}
		}
		return nil
	}

	if err := os.MkdirAll(local, 0o755); err != nil {
		return fmt.Errorf("failed to create local directory: %w", err)
	}
	entries, err := b.ListDir(ctx, key)
	if err != nil {
		return err
	}
	for _, e := range entries {
		localChild := filepath.Join(local, e.Name)
		remoteChild := path.Join(key, e.Name)
		switch e.Kind {
		case KindDir:
			err = b.GetTree(ctx, localChild, remoteChild)
		case KindFile:
			err = b.GetFile(ctx, localChild, remoteChild)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// PutTree uploads the local directory to remote.
func (b *Backend) PutTree(ctx context.Context, local, remote string) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	key := Clean(remote)

	if td, ok := b.driver.(TreeDriver); ok {
		err := td.PutTree(ctx, local, key)
		b.record("put_tree", err)
		if err != nil {
			return &Error{Op: "put_tree", Path: key, Attempts: 1, Err: err}
		}
		return nil
	}

	entries, err := os.ReadDir(local)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", local, err)
	}
	if err := b.Mkdir(ctx, key); err != nil {
		return err
	}
	for _, e := range entries {
		localChild := filepath.Join(local, e.Name())
		remoteChild := path.Join(key, e.Name())
		switch {
		case e.IsDir():
			err = b.PutTree(ctx, localChild, remoteChild)
		case e.Type().IsRegular():
			err = b.PutFile(ctx, localChild, remoteChild)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Close ends the session. Further calls fail with ErrClosed.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	return b.driver.Close()
}
