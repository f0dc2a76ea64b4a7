package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/imedwei/file-backup/internal/catalog"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage backup configurations",
	}
	cmd.AddCommand(newConfigAddCmd(a), newConfigRemoveCmd(a), newConfigListCmd(a))
	return cmd
}

func newConfigAddCmd(a *app) *cobra.Command {
	var (
		name     string
		mode     string
		path     string
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a directory to back up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := a.openCatalog()
			if err != nil {
				return err
			}
			defer cat.Close()

			cfg := catalog.BackupConfig{
				Name:      name,
				Mode:      catalog.Mode(mode),
				LocalPath: path,
				Interval:  interval,
			}
			if err := cat.Add(cmd.Context(), cfg); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Added %s\n", name)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "configuration name")
	cmd.Flags().StringVar(&mode, "mode", string(catalog.ModeIncrement), "backup mode: increment or compress")
	cmd.Flags().StringVar(&path, "path", "", "directory to back up")
	cmd.Flags().DurationVar(&interval, "interval", 0, "minimum time between scheduled backups, 0 for manual only")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("path")
	return cmd
}

func newConfigRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a configuration (remote snapshots are kept)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := a.openCatalog()
			if err != nil {
				return err
			}
			defer cat.Close()

			if err := cat.Remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Removed %s\n", args[0])
			return nil
		},
	}
}

func newConfigListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configurations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := a.openCatalog()
			if err != nil {
				return err
			}
			defer cat.Close()

			configs, err := cat.List(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tMODE\tINTERVAL\tPATH")
			for _, c := range configs {
				interval := "manual"
				if c.Interval > 0 {
					interval = c.Interval.String()
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Name, c.Mode, interval, c.LocalPath)
			}
			return tw.Flush()
		},
	}
}
