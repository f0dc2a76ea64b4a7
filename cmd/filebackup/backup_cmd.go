package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/imedwei/file-backup/internal/backup"
	"github.com/imedwei/file-backup/internal/catalog"
	"github.com/imedwei/file-backup/internal/utils"
)

// loadConfig returns the named configuration and an engine for it.
func (a *app) loadConfig(ctx context.Context, name string) (catalog.BackupConfig, *backup.Engine, error) {
	cat, err := a.openCatalog()
	if err != nil {
		return catalog.BackupConfig{}, nil, err
	}
	defer cat.Close()

	cfg, err := cat.Get(ctx, name)
	if err != nil {
		return catalog.BackupConfig{}, nil, err
	}
	engine, err := a.newEngine()
	if err != nil {
		return catalog.BackupConfig{}, nil, err
	}
	return cfg, engine, nil
}

func newBackupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "backup <name>",
		Short: "Take a snapshot now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			cfg, engine, err := a.loadConfig(ctx, args[0])
			if err != nil {
				return err
			}
			res, err := engine.Backup(ctx, cfg)
			if err != nil {
				return err
			}
			if res.Skipped {
				fmt.Fprintf(a.stdout, "%s: no changes, nothing uploaded\n", cfg.Name)
				return nil
			}
			fmt.Fprintf(a.stdout, "%s: snapshot %s (%d updates, %d volumes, %s)\n",
				cfg.Name, res.UUID, res.Updates, res.Volumes, utils.FormatBytes(res.Size))
			return nil
		},
	}
}

func newHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history <name>",
		Short: "List the snapshots of a configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, engine, err := a.loadConfig(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			chain, err := engine.History(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "UUID\tTIME")
			for _, r := range chain {
				fmt.Fprintf(tw, "%s\t%s\n", r.UUID, r.Time().Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
}

func newRecoverCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "recover <name> <uuid>",
		Short: "Replace the local directory with a snapshot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			cfg, engine, err := a.loadConfig(ctx, args[0])
			if err != nil {
				return err
			}
			if err := engine.Recover(ctx, cfg, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "%s: recovered snapshot %s into %s\n", cfg.Name, args[1], cfg.LocalPath)
			return nil
		},
	}
}
