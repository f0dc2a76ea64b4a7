package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/imedwei/file-backup/internal/catalog"
	"github.com/imedwei/file-backup/internal/snapshot"
	"github.com/imedwei/file-backup/internal/storage"
)

// cleanupTimeout bounds remote cleanup after an abort, which runs even when
// the attempt context is already cancelled.
const cleanupTimeout = 30 * time.Second

// State is the lifecycle state of an attempt.
type State int

const (
	StateCreated State = iota
	StatePreparing
	StateExecuting
	StateFinalizing
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StatePreparing:
		return "preparing"
	case StateExecuting:
		return "executing"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Attempt is one run of a backup or recovery. It owns a backend session and
// a private cache directory, both released by Release on every exit path.
type Attempt struct {
	Env     *Env
	Config  catalog.BackupConfig
	Layout  snapshot.Layout
	Backend *storage.Backend
	Chain   snapshot.Chain

	// CacheDir is private to this attempt and removed when it ends.
	CacheDir string

	// UUID is the snapshot being written, once one was started.
	UUID string

	state   State
	staging []string
	logger  *slog.Logger
}

func newAttempt(env *Env, cfg catalog.BackupConfig) *Attempt {
	return &Attempt{
		Env:    env,
		Config: cfg,
		Layout: snapshot.NewLayout(cfg.Name),
		logger: env.Logger.With("name", cfg.Name),
	}
}

// State returns the current state.
func (a *Attempt) State() State {
	return a.state
}

func (a *Attempt) enter(s State) {
	a.state = s
	a.logger.Debug("Attempt state changed", "uuid", a.UUID, "state", s.String())
}

// access describes what an attempt does with the remote root.
type access int

const (
	// accessWrite creates the remote root; a missing chain starts a new one.
	accessWrite access = iota
	// accessRead leaves the remote untouched; a missing chain is empty.
	accessRead
	// accessRestore leaves the remote untouched and requires a chain.
	accessRestore
)

// prepare opens the backend, creates the cache and loads the chain.
func (a *Attempt) prepare(ctx context.Context, mode access) error {
	a.enter(StatePreparing)

	if err := os.MkdirAll(a.Env.CacheRoot, 0o755); err != nil {
		return fmt.Errorf("failed to create cache root: %w", err)
	}
	dir, err := os.MkdirTemp(a.Env.CacheRoot, cacheName(a.Config.Name)+"-")
	if err != nil {
		return fmt.Errorf("failed to create cache dir: %w", err)
	}
	a.CacheDir = dir

	backend, err := a.Env.Open(ctx)
	if err != nil {
		return &StopOperation{Reason: "backend unavailable", Err: err}
	}
	a.Backend = backend

	if mode == accessWrite {
		if err := a.Backend.Mkdir(ctx, a.Layout.Root); err != nil {
			return err
		}
	}

	chain, err := a.loadChain(ctx)
	switch {
	case errors.Is(err, storage.ErrNotExist) && mode == accessRestore:
		return &StopOperation{Reason: "no backups recorded", Err: fmt.Errorf("%w: %s", ErrChainMissing, a.Config.Name)}
	case errors.Is(err, storage.ErrNotExist):
		a.logger.Info("No snapshot chain yet, starting a new one")
	case err != nil:
		return err
	}
	a.Chain = chain
	return nil
}

// cacheName turns a config name into a safe directory name prefix.
func cacheName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
}

// abort cleans up the remote folder of the in-progress snapshot and returns
// the classified error. Cleanup uses its own deadline so it runs even after
// cancellation.
func (a *Attempt) abort(ctx context.Context, err error) error {
	a.enter(StateAborted)

	if a.UUID != "" && a.Backend != nil {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()
		if rerr := a.Backend.Rmdir(cctx, a.Layout.Dir(a.UUID)); rerr != nil {
			a.logger.Warn("Failed to remove incomplete snapshot", "uuid", a.UUID, "error", rerr)
		} else {
			a.logger.Info("Removed incomplete snapshot", "uuid", a.UUID)
		}
	}
	return classify(err, a.UUID)
}

// Release closes the backend session and removes the cache and any unused
// staging directories. It is safe to call more than once.
func (a *Attempt) Release() {
	if a.Backend != nil {
		if err := a.Backend.Close(); err != nil {
			a.logger.Warn("Failed to close backend", "error", err)
		}
		a.Backend = nil
	}
	for _, dir := range a.staging {
		if err := os.RemoveAll(dir); err != nil {
			a.logger.Warn("Failed to remove staging directory", "path", dir, "error", err)
		}
	}
	a.staging = nil
	if a.CacheDir != "" {
		if err := os.RemoveAll(a.CacheDir); err != nil {
			a.logger.Warn("Failed to remove cache directory", "path", a.CacheDir, "error", err)
		}
		a.CacheDir = ""
	}
}

// cachePath returns a path inside the cache directory.
func (a *Attempt) cachePath(elem ...string) string {
	return filepath.Join(append([]string{a.CacheDir}, elem...)...)
}

// StagingDir creates an empty directory next to the local path. It is
// removed on release unless it was moved into place.
func (a *Attempt) StagingDir() (string, error) {
	local := filepath.Clean(a.Config.LocalPath)
	parent := filepath.Dir(local)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", err
	}
	dir, err := os.MkdirTemp(parent, "."+filepath.Base(local)+".restore-")
	if err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	a.staging = append(a.staging, dir)
	if err := os.Chmod(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// NewSnapshotID reserves a uuid for a new snapshot. A uuid already in the
// chain requests a restart.
func (a *Attempt) NewSnapshotID() (string, error) {
	id := a.Env.NewUUID()
	if a.Chain.Has(id) {
		return "", &RestartOperation{Reason: "uuid collision: " + id}
	}
	a.UUID = id
	return id, nil
}

// NewRecord creates the record of the in-progress snapshot. Its timestamp
// is kept strictly after the newest record so replay order is preserved.
func (a *Attempt) NewRecord() snapshot.Record {
	rec := snapshot.NewRecord(a.UUID, a.Env.Now())
	if last, ok := a.Chain.Last(); ok && rec.Timestamp <= last.Timestamp {
		rec = snapshot.NewRecord(a.UUID, last.Time().Add(time.Microsecond))
	}
	return rec
}

// getBlob downloads a small remote file.
func (a *Attempt) getBlob(ctx context.Context, remote string) ([]byte, error) {
	local := a.cachePath("meta", strings.ReplaceAll(remote, "/", "_"))
	if err := a.Backend.GetFile(ctx, local, remote); err != nil {
		return nil, err
	}
	defer os.Remove(local)
	return os.ReadFile(local)
}

// putBlob uploads a small remote file.
func (a *Attempt) putBlob(ctx context.Context, remote string, data []byte) error {
	local := a.cachePath("meta", strings.ReplaceAll(remote, "/", "_"))
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(local, data, 0o600); err != nil {
		return err
	}
	defer os.Remove(local)
	return a.Backend.PutFile(ctx, local, remote)
}

func (a *Attempt) loadChain(ctx context.Context) (snapshot.Chain, error) {
	data, err := a.getBlob(ctx, a.Layout.Chain())
	if err != nil {
		return nil, err
	}
	return a.Env.Codec.DecodeChain(data)
}

// LoadUpdates downloads the update list of a snapshot.
func (a *Attempt) LoadUpdates(ctx context.Context, uuid string) ([]snapshot.UpdateEntry, error) {
	data, err := a.getBlob(ctx, a.Layout.Updates(uuid))
	if err != nil {
		return nil, fmt.Errorf("failed to load updates of %s: %w", uuid, err)
	}
	return a.Env.Codec.DecodeUpdates(data)
}

// SaveUpdates uploads the update list of the in-progress snapshot.
func (a *Attempt) SaveUpdates(ctx context.Context, updates []snapshot.UpdateEntry) error {
	data, err := a.Env.Codec.EncodeUpdates(updates)
	if err != nil {
		return err
	}
	return a.putBlob(ctx, a.Layout.Updates(a.UUID), data)
}

// Commit appends rec to the chain and uploads it. Once this succeeds the
// snapshot is visible.
func (a *Attempt) Commit(ctx context.Context, rec snapshot.Record) error {
	a.enter(StateFinalizing)

	chain := a.Chain.Append(rec)
	data, err := a.Env.Codec.EncodeChain(chain)
	if err != nil {
		return err
	}
	if err := a.putBlob(ctx, a.Layout.Chain(), data); err != nil {
		return err
	}
	a.Chain = chain
	return nil
}

// Upload packs dir into volumes of the in-progress snapshot, uploads them in
// parallel and then the manifest. It returns the number of volumes and their
// total size.
func (a *Attempt) Upload(ctx context.Context, dir string) (int, int64, error) {
	packDir := a.cachePath("volumes", a.UUID)
	paths, err := a.Env.Archiver.Pack(ctx, dir, packDir, a.UUID, snapshot.Password(a.UUID), a.Env.VolumeSize)
	if err != nil {
		return 0, 0, err
	}

	names := make([]string, len(paths))
	var size int64
	for i, p := range paths {
		names[i] = filepath.Base(p)
		info, err := os.Stat(p)
		if err != nil {
			return 0, 0, err
		}
		size += info.Size()
	}

	if err := a.Backend.Mkdir(ctx, a.Layout.Dir(a.UUID)); err != nil {
		return 0, 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.Env.Workers)
	for i, p := range paths {
		g.Go(func() error {
			return a.Backend.PutFile(gctx, p, a.Layout.Volume(a.UUID, names[i]))
		})
	}
	if err := g.Wait(); err != nil {
		return 0, 0, err
	}

	// The manifest goes last: a present manifest means every volume is there.
	manifest, err := a.Env.Codec.EncodeManifest(names)
	if err != nil {
		return 0, 0, err
	}
	if err := a.putBlob(ctx, a.Layout.Manifest(a.UUID), manifest); err != nil {
		return 0, 0, err
	}

	for _, p := range paths {
		_ = os.Remove(p)
	}
	return len(paths), size, nil
}

// Download fetches the manifest and volumes of snapshot uuid and unpacks
// them into dest.
func (a *Attempt) Download(ctx context.Context, uuid, dest string) error {
	data, err := a.getBlob(ctx, a.Layout.Manifest(uuid))
	if err != nil {
		return fmt.Errorf("failed to load manifest of %s: %w", uuid, err)
	}
	names, err := a.Env.Codec.DecodeManifest(data)
	if err != nil {
		return err
	}
	if err := checkVolumeNames(uuid, names); err != nil {
		return err
	}

	volDir := a.cachePath("download", uuid)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.Env.Workers)
	for _, name := range names {
		g.Go(func() error {
			return a.Backend.GetFile(gctx, filepath.Join(volDir, name), a.Layout.Volume(uuid, name))
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := a.Env.Archiver.Unpack(ctx, filepath.Join(volDir, names[0]), dest, snapshot.Password(uuid)); err != nil {
		return err
	}
	return os.RemoveAll(volDir)
}

// checkVolumeNames rejects an empty manifest and entries that are not plain
// file names.
func checkVolumeNames(uuid string, names []string) error {
	if len(names) == 0 {
		return &StopOperation{UUID: uuid, Reason: "empty manifest", Err: ErrSnapshotNotFound}
	}
	for _, name := range names {
		if name == "." || name == ".." || name != path.Base(name) {
			return &StopOperation{UUID: uuid, Reason: "invalid manifest", Err: fmt.Errorf("volume name %q", name)}
		}
	}
	return nil
}
