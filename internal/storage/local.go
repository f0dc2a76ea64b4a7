package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/imedwei/file-backup/internal/utils"
)

// LocalDriver stores everything below a directory on the local filesystem.
type LocalDriver struct {
	root string
}

// NewLocalDriver creates a provider rooted at root, creating it if needed.
func NewLocalDriver(root string) (*LocalDriver, error) {
	if root == "" {
		return nil, fmt.Errorf("local backend root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", abs, err)
	}
	return &LocalDriver{root: abs}, nil
}

// Root returns the absolute root directory.
func (d *LocalDriver) Root() string {
	return d.root
}

// resolve maps a remote path to a path below root.
func (d *LocalDriver) resolve(remote string) string {
	return filepath.Join(d.root, filepath.FromSlash(Clean(remote)))
}

// Probe implements Driver.
func (d *LocalDriver) Probe(ctx context.Context) error {
	info, err := os.Stat(d.root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", d.root)
	}
	return nil
}

// Mkdir implements Driver.
func (d *LocalDriver) Mkdir(ctx context.Context, remote string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return os.MkdirAll(d.resolve(remote), 0o755)
}

// Rmdir implements Driver.
func (d *LocalDriver) Rmdir(ctx context.Context, remote string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target := d.resolve(remote)
	if target == d.root {
		return fmt.Errorf("refusing to remove backend root")
	}
	return os.RemoveAll(target)
}

// ListDir implements Driver.
func (d *LocalDriver) ListDir(ctx context.Context, remote string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	items, err := os.ReadDir(d.resolve(remote))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		switch {
		case item.IsDir():
			entries = append(entries, Entry{Kind: KindDir, Name: item.Name()})
		case item.Type().IsRegular():
			entries = append(entries, Entry{Kind: KindFile, Name: item.Name()})
		}
	}
	return entries, nil
}

// GetFile implements Driver.
func (d *LocalDriver) GetFile(ctx context.Context, local, remote string) error {
	src, err := os.Open(d.resolve(remote))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotExist, remote)
	}
	if err != nil {
		return err
	}
	defer src.Close()

	return copyToFile(ctx, local, src)
}

// PutFile implements Driver.
func (d *LocalDriver) PutFile(ctx context.Context, local, remote string) error {
	src, err := os.Open(local)
	if err != nil {
		return err
	}
	defer src.Close()

	target := d.resolve(remote)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	return copyToFile(ctx, target, src)
}

// Close implements Driver.
func (d *LocalDriver) Close() error {
	return nil
}

// copyToFile writes src to a temporary sibling of dst and renames it into
// place, so readers never observe a partial file.
func copyToFile(ctx context.Context, dst string, src io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := utils.DefaultBufferPool.Copy(ctx, tmp, src); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
