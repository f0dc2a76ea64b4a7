package backup

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"golang.org/x/crypto/sha3"
	"golang.org/x/sync/errgroup"

	"github.com/imedwei/file-backup/internal/snapshot"
	"github.com/imedwei/file-backup/internal/utils"
)

// scanLocal walks root and returns every directory and regular file below
// it with file hashes filled in. Hashing runs on up to workers goroutines.
// Other file types are skipped.
func scanLocal(ctx context.Context, root string, workers int) ([]snapshot.LocalEntry, error) {
	var entries []snapshot.LocalEntry
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == root {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		switch {
		case d.IsDir():
			entries = append(entries, snapshot.LocalEntry{Kind: snapshot.KindDir, Path: rel})
		case d.Type().IsRegular():
			entries = append(entries, snapshot.LocalEntry{Kind: snapshot.KindFile, Path: rel})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range entries {
		if entries[i].Kind != snapshot.KindFile {
			continue
		}
		g.Go(func() error {
			sum, err := hashFile(gctx, filepath.Join(root, filepath.FromSlash(entries[i].Path)))
			if err != nil {
				return err
			}
			entries[i].Hash = sum
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

// hashFile returns the hex sha3-256 of a file's content.
func hashFile(ctx context.Context, name string) (string, error) {
	f, err := os.Open(name)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha3.New256()
	if _, err := utils.DefaultBufferPool.Copy(ctx, h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", name, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// errChanged reports a file modified while it was being backed up.
var errChanged = errors.New("file changed during backup")

// copyAndHash copies src to dst and checks that the copied content still
// hashes to want.
func copyAndHash(ctx context.Context, src, dst, want string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	h := sha3.New256()
	_, err = utils.DefaultBufferPool.Copy(ctx, io.MultiWriter(out, h), in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != want {
		return fmt.Errorf("%w: %s", errChanged, src)
	}
	return os.Chtimes(dst, time.Now(), info.ModTime())
}

// moveFile moves src to dst, creating parent directories. It copies when a
// rename is not possible.
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	_, err = utils.DefaultBufferPool.Copy(context.Background(), out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	_ = os.Chtimes(dst, time.Now(), info.ModTime())
	return os.Remove(src)
}

// nativePath converts a slash separated relative path below root, rejecting
// paths that leave it.
func nativePath(root, rel string) (string, error) {
	clean := path.Clean("/" + rel)
	if clean == "/" || clean[1:] != rel {
		return "", fmt.Errorf("invalid entry path %q", rel)
	}
	return filepath.Join(root, filepath.FromSlash(rel)), nil
}

// swapDir replaces live with stage. The original is moved aside first and
// put back if stage cannot be moved into place; it is removed only after
// the replacement succeeded.
func swapDir(live, stage string) error {
	var old string
	if _, err := os.Lstat(live); err == nil {
		old = fmt.Sprintf("%s.old-%d", live, time.Now().UnixNano())
		if err := os.Rename(live, old); err != nil {
			return fmt.Errorf("failed to move %s aside: %w", live, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	if err := os.Rename(stage, live); err != nil {
		if old != "" {
			if rerr := os.Rename(old, live); rerr != nil {
				return fmt.Errorf("failed to restore %s from %s after %v: %w", live, old, err, rerr)
			}
		}
		return fmt.Errorf("failed to move recovered tree into place: %w", err)
	}

	if old != "" {
		if err := os.RemoveAll(old); err != nil {
			return fmt.Errorf("recovered tree in place but failed to remove %s: %w", old, err)
		}
	}
	return nil
}
