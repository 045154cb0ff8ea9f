// Package db provides the database connection and schema migration for the
// proxyforge record store.
package db

import (
	"fmt"
	"log/slog"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/proxyforge/proxyforge/internal/model"
)

// Connect opens a database connection. An empty DSN falls back to an embedded
// SQLite file so the engine can run without external infrastructure.
func Connect(logger *slog.Logger, dsn string) (*gorm.DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var dialector gorm.Dialector
	if dsn == "" {
		logger.Info("database DSN not set, falling back to embedded SQLite", "db_filename", "proxyforge.db")
		dialector = sqlite.Open("proxyforge.db?_busy_timeout=5000&_journal_mode=WAL")
	} else {
		dialector = postgres.Open(dsn)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return gdb, nil
}

// Migrate creates or updates the tables used by the engine.
func Migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(&model.ProxyGroup{}, &model.ConfigRecord{}, &model.FileRecord{}); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}
