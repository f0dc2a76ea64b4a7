// Command filebackup backs up directories to local, HTTP, S3 or GCS storage
// and recovers them to any recorded snapshot.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/imedwei/file-backup/internal/backup"
	"github.com/imedwei/file-backup/internal/catalog"
	"github.com/imedwei/file-backup/internal/config"
	"github.com/imedwei/file-backup/internal/metrics"
)

const version = "1.0.0"

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

func execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	return 0
}

// app is the state shared by all subcommands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	stdout io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout}

	cmd := &cobra.Command{
		Use:           "filebackup",
		Short:         "Incremental directory backup and recovery",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			a.cfg = cfg
			a.logger = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
			slog.SetDefault(a.logger)
			return nil
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	cmd.AddCommand(newConfigCmd(a))
	cmd.AddCommand(newBackupCmd(a))
	cmd.AddCommand(newHistoryCmd(a))
	cmd.AddCommand(newRecoverCmd(a))
	cmd.AddCommand(newRunCmd(a))
	cmd.AddCommand(newServeStorageCmd(a))
	return cmd
}

// openCatalog opens the configuration catalog. The caller closes it.
func (a *app) openCatalog() (*catalog.Catalog, error) {
	cat, err := catalog.Open(a.cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog %s: %w", a.cfg.CatalogPath, err)
	}
	return cat, nil
}

// newEngine checks the backend settings and builds the engine.
func (a *app) newEngine() (*backup.Engine, error) {
	if err := a.cfg.ValidateBackend(); err != nil {
		return nil, err
	}
	metrics.Info.WithLabelValues(version, a.cfg.BackendMode).Set(1)
	a.logger.Info("Configuration loaded",
		"backend", a.cfg.BackendMode,
		"cache_dir", a.cfg.CacheDir,
		"volume_size_mb", a.cfg.VolumeSizeMB,
		"workers", a.cfg.Workers,
	)
	return backup.NewEngine(backup.NewEnv(a.cfg, a.logger)), nil
}
