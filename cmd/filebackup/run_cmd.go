package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/imedwei/file-backup/internal/health"
	"github.com/imedwei/file-backup/internal/scheduler"
	"github.com/imedwei/file-backup/internal/server"
	"github.com/imedwei/file-backup/internal/storage"
)

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func newRunCmd(a *app) *cobra.Command {
	var (
		tick            time.Duration
		shutdownTimeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run scheduled backups until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			cat, err := a.openCatalog()
			if err != nil {
				return err
			}
			defer cat.Close()

			engine, err := a.newEngine()
			if err != nil {
				return err
			}

			var httpServer *server.Server
			if a.cfg.MetricsPort > 0 {
				serverConfig := server.DefaultConfig()
				serverConfig.Port = a.cfg.MetricsPort
				httpServer = server.New(serverConfig, a.logger)
				httpServer.RegisterHealthCheck("catalog", health.Probe(health.DefaultTimeout, cat.Ping))
				httpServer.RegisterHealthCheck("storage", health.Probe(health.DefaultTimeout, func(ctx context.Context) error {
					backend, err := storage.Open(ctx, a.cfg, a.logger)
					if err != nil {
						return err
					}
					return backend.Close()
				}))

				go func() {
					if err := httpServer.Start(); err != nil {
						a.logger.Error("HTTP server failed", "error", err)
					}
				}()
			}

			host := scheduler.NewHost(cat, engine, tick, a.logger)
			if err := host.Start(); err != nil {
				return err
			}

			<-ctx.Done()
			a.logger.Info("Shutdown signal received")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if httpServer != nil {
				if err := httpServer.Shutdown(shutdownCtx); err != nil {
					a.logger.Error("HTTP server shutdown failed", "error", err)
				}
			}
			return host.Stop(shutdownCtx)
		},
	}
	cmd.Flags().DurationVar(&tick, "tick", scheduler.DefaultTick, "how often configurations are checked")
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 2*time.Minute, "how long to wait for running backups on shutdown")
	return cmd
}
