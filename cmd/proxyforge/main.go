// Package main provides the proxyforge binary: a reconciliation engine that
// keeps generated proxy configuration files consistent with the record store.
package main

import (
	"log/slog"
	"os"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/proxyforge/proxyforge/internal/config"
	"github.com/proxyforge/proxyforge/internal/db"
	"github.com/proxyforge/proxyforge/internal/engine"
	"github.com/proxyforge/proxyforge/internal/store"
)

var (
	version = "dev"

	// Global flags
	configPath string
	basePath   string
	dbDSN      string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "proxyforge",
		Short: "Reconciles proxy configuration files against the record store",
		Long: `proxyforge keeps generated reverse-proxy configuration documents
consistent between the authoritative record store and the filesystem
subtree the proxy watches.

The serve command runs the admin API plus a background reconcile worker;
the other commands run one-shot maintenance operations.`,
		Version:      version,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&basePath, "base-path", "", "Filesystem root for materialized configs (overrides config)")
	rootCmd.PersistentFlags().StringVar(&dbDSN, "db-dsn", "", "Postgres DSN; empty uses embedded SQLite (overrides config)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newReconcileCmd())
	rootCmd.AddCommand(newSweepCmd())
	rootCmd.AddCommand(newMergeCmd())
	rootCmd.AddCommand(newListCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig merges the file/env configuration with command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if basePath != "" {
		cfg.BasePath = basePath
	}
	if dbDSN != "" {
		cfg.DatabaseDSN = dbDSN
	}
	return cfg, nil
}

// setupEngine opens the database and constructs the engine. Fatal on failure:
// nothing works without a store.
func setupEngine(cfg *config.Config, logger *slog.Logger) *engine.Engine {
	gdb, err := db.Connect(logger, cfg.DatabaseDSN)
	if err != nil {
		glog.Fatalf("Failed to connect to database: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		glog.Fatalf("Failed to migrate schema: %v", err)
	}
	return engine.New(cfg.BasePath, store.NewConfigStore(gdb), store.NewGroupStore(gdb), logger)
}

func newLogger() *slog.Logger {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)
	return logger
}
