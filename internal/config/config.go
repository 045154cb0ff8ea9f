// Package config holds the process configuration: defaults, an optional YAML
// file, then environment overrides, in that order. The config base path is
// explicit injected state; no component reads it from a global.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration accepts Go duration strings ("30s", "5m") in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the full proxyforge process configuration.
type Config struct {
	// BasePath is the filesystem root the engine exclusively owns.
	BasePath string `yaml:"basePath"`
	// DatabaseDSN is a postgres DSN; empty uses embedded SQLite.
	DatabaseDSN string `yaml:"databaseDSN"`
	// ListenAddr is the admin API address.
	ListenAddr string `yaml:"listenAddr"`
	// WorkerEnabled gates the background reconcile worker.
	WorkerEnabled bool `yaml:"workerEnabled"`
	// WorkerInterval is the periodic pass interval.
	WorkerInterval Duration `yaml:"workerInterval"`
	// SweepEvery runs the sweeper on every Nth periodic pass.
	SweepEvery int `yaml:"sweepEvery"`
	// BackupOnOverwrite copies existing files aside before rewriting them.
	BackupOnOverwrite bool `yaml:"backupOnOverwrite"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		BasePath:       "/etc/proxyforge/conf.d",
		ListenAddr:     ":8085",
		WorkerEnabled:  true,
		WorkerInterval: Duration(30 * time.Second),
		SweepEvery:     10,
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// environment overrides. An empty path skips the file layer.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overrides fields from PROXYFORGE_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("PROXYFORGE_BASE_PATH"); v != "" {
		c.BasePath = v
	}
	if v := os.Getenv("PROXYFORGE_DATABASE_DSN"); v != "" {
		c.DatabaseDSN = v
	}
	if v := os.Getenv("PROXYFORGE_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("PROXYFORGE_WORKER_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.WorkerEnabled = b
		}
	}
	if v := os.Getenv("PROXYFORGE_WORKER_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.WorkerInterval = Duration(time.Duration(n) * time.Second)
		}
	}
	if v := os.Getenv("PROXYFORGE_SWEEP_EVERY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.SweepEvery = n
		}
	}
	if v := os.Getenv("PROXYFORGE_BACKUP_ON_OVERWRITE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.BackupOnOverwrite = b
		}
	}
}
