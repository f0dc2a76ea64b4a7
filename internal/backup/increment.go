package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/imedwei/file-backup/internal/metrics"
	"github.com/imedwei/file-backup/internal/snapshot"
)

// incrementStrategy stores only what changed since the previous snapshot.
type incrementStrategy struct{}

func (incrementStrategy) Backup(ctx context.Context, a *Attempt) (*Result, error) {
	a.enter(StateExecuting)

	start := time.Now()
	local, err := scanLocal(ctx, a.Config.LocalPath, a.Env.Workers)
	if err != nil {
		return nil, err
	}
	metrics.BackupDuration.WithLabelValues("scan").Observe(time.Since(start).Seconds())

	tree, err := replayChain(ctx, a, a.Chain)
	if err != nil {
		return nil, err
	}

	updates := snapshot.Diff(local, tree)
	if len(updates) == 0 {
		a.logger.Info("No changes since last snapshot, skipping backup", "entries", len(local))
		return &Result{Name: a.Config.Name, Skipped: true}, nil
	}

	id, err := a.NewSnapshotID()
	if err != nil {
		return nil, err
	}
	a.logger.Info("Changes detected", "uuid", id, "updates", len(updates))

	stage := a.cachePath("stage", id)
	if err := os.MkdirAll(stage, 0o755); err != nil {
		return nil, err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.Env.Workers)
	for _, u := range updates {
		metrics.ChangedEntries.WithLabelValues(string(u.Kind)).Inc()
		if u.Kind != snapshot.KindFile {
			continue
		}
		g.Go(func() error {
			src, err := nativePath(a.Config.LocalPath, u.Path)
			if err != nil {
				return err
			}
			dst, err := nativePath(stage, u.Path)
			if err != nil {
				return err
			}
			return copyAndHash(gctx, src, dst, u.Hash)
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, errChanged) {
			return nil, &RestartOperation{Reason: err.Error()}
		}
		return nil, err
	}

	start = time.Now()
	volumes, size, err := a.Upload(ctx, stage)
	if err != nil {
		return nil, err
	}
	metrics.BackupDuration.WithLabelValues("upload").Observe(time.Since(start).Seconds())

	if err := a.SaveUpdates(ctx, updates); err != nil {
		return nil, err
	}

	rec := a.NewRecord()
	if err := a.Commit(ctx, rec); err != nil {
		return nil, err
	}
	return &Result{
		Name:    a.Config.Name,
		UUID:    id,
		Record:  rec,
		Updates: len(updates),
		Volumes: volumes,
		Size:    size,
	}, nil
}

func (incrementStrategy) Recover(ctx context.Context, a *Attempt, rec snapshot.Record) (string, error) {
	a.enter(StateExecuting)

	owned := make(snapshot.OwnedTree)
	for _, r := range a.Chain.Until(rec.Timestamp) {
		updates, err := a.LoadUpdates(ctx, r.UUID)
		if err != nil {
			return "", err
		}
		owned.Apply(r.UUID, updates)
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range owned.Owners() {
		g.Go(func() error {
			return a.Download(gctx, id, a.cachePath("extract", id))
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	metrics.BackupDuration.WithLabelValues("download").Observe(time.Since(start).Seconds())

	stage, err := a.StagingDir()
	if err != nil {
		return "", err
	}
	for _, p := range owned.Paths() {
		o := owned[p]
		dst, err := nativePath(stage, p)
		if err != nil {
			return "", &StopOperation{UUID: o.UUID, Reason: "invalid update list", Err: err}
		}
		switch o.Entry.Kind {
		case snapshot.KindDir:
			if err := os.MkdirAll(dst, 0o755); err != nil {
				return "", err
			}
		case snapshot.KindFile:
			src := filepath.Join(a.cachePath("extract", o.UUID), filepath.FromSlash(p))
			if err := moveFile(src, dst); err != nil {
				return "", fmt.Errorf("failed to restore %s from %s: %w", p, o.UUID, err)
			}
		}
	}

	if err := verifyTree(ctx, stage, owned, a.Env.Workers); err != nil {
		return "", err
	}
	return stage, nil
}

// replayChain rebuilds the virtual remote tree from every snapshot in chain.
func replayChain(ctx context.Context, a *Attempt, chain snapshot.Chain) (snapshot.Tree, error) {
	tree := make(snapshot.Tree)
	for _, r := range chain {
		updates, err := a.LoadUpdates(ctx, r.UUID)
		if err != nil {
			return nil, err
		}
		tree.Apply(updates)
	}
	return tree, nil
}

// verifyTree checks every restored file against its recorded hash.
func verifyTree(ctx context.Context, root string, owned snapshot.OwnedTree, workers int) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for p, o := range owned {
		if o.Entry.Kind != snapshot.KindFile {
			continue
		}
		g.Go(func() error {
			sum, err := hashFile(gctx, filepath.Join(root, filepath.FromSlash(p)))
			if err != nil {
				return err
			}
			if sum != o.Entry.Hash {
				return &StopOperation{UUID: o.UUID, Reason: "corrupt snapshot", Err: fmt.Errorf("hash mismatch for %s", p)}
			}
			return nil
		})
	}
	return g.Wait()
}
