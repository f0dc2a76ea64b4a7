package main

import (
	"github.com/spf13/cobra"

	"github.com/imedwei/file-backup/internal/fileserver"
	"github.com/imedwei/file-backup/internal/storage"
)

func newServeStorageCmd(a *app) *cobra.Command {
	var maxBody int64
	cmd := &cobra.Command{
		Use:   "serve-storage",
		Short: "Serve a local directory as a storage server backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			driver, err := storage.NewLocalDriver(a.cfg.StorageServerRoot)
			if err != nil {
				return err
			}
			srv, err := fileserver.New(driver, fileserver.Config{
				Addr:         a.cfg.StorageServerAddr,
				Token:        a.cfg.ServerToken,
				APIKey:       a.cfg.ServerAPIKey,
				MaxBodyBytes: maxBody,
			}, a.logger)
			if err != nil {
				return err
			}
			defer srv.Close()

			a.logger.Info("Serving storage", "root", driver.Root(), "addr", a.cfg.StorageServerAddr)
			return srv.Run(ctx)
		},
	}
	cmd.Flags().Int64Var(&maxBody, "max-body-bytes", fileserver.DefaultMaxBodyBytes, "largest accepted request body")
	return cmd
}
