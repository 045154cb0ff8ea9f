package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/proxyforge/proxyforge/internal/api"
	"github.com/proxyforge/proxyforge/internal/worker"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the admin API and the background reconcile worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			cfg, err := loadConfig()
			if err != nil {
				glog.Fatalf("Failed to load config: %v", err)
			}
			eng := setupEngine(cfg, logger)

			logger.Info("starting proxyforge",
				"listen", cfg.ListenAddr,
				"basePath", cfg.BasePath,
				"workerEnabled", cfg.WorkerEnabled)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				sig := <-sigCh
				logger.Info("received shutdown signal", "signal", sig)
				cancel()
			}()

			w := worker.New(eng, worker.Config{
				Interval:          time.Duration(cfg.WorkerInterval),
				SweepEvery:        cfg.SweepEvery,
				Enabled:           cfg.WorkerEnabled,
				BackupOnOverwrite: cfg.BackupOnOverwrite,
			}, logger)

			workerDone := make(chan struct{})
			go func() {
				defer close(workerDone)
				w.Run(ctx)
			}()

			httpServer := &http.Server{
				Addr:    cfg.ListenAddr,
				Handler: api.Router(eng, w, logger),
			}
			go func() {
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					glog.Fatalf("HTTP server error: %v", err)
				}
			}()

			logger.Info("proxyforge ready", "listen", cfg.ListenAddr)

			<-ctx.Done()
			logger.Info("shutting down...")

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer shutdownCancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("HTTP server shutdown error", "error", err)
			}
			<-workerDone

			logger.Info("proxyforge stopped")
			return nil
		},
	}
}
