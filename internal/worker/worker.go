// Package worker runs reconciliation passes in the background: periodically
// on a ticker, and immediately when notified that records changed. Passes
// read everything from the store at invocation time; there is no long-lived
// in-memory view of current configuration.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/proxyforge/proxyforge/internal/engine"
	"github.com/proxyforge/proxyforge/internal/reconcile"
)

// Config controls the reconcile worker.
type Config struct {
	// Interval between periodic passes. Default 30s.
	Interval time.Duration
	// SweepEvery runs the orphan sweeper on every Nth periodic pass.
	// Default 10; 0 disables periodic sweeps.
	SweepEvery int
	// Enabled gates the whole worker. Default true.
	Enabled bool
	// BackupOnOverwrite copies existing files aside before rewriting them.
	BackupOnOverwrite bool
}

// DefaultConfig returns the default worker configuration.
func DefaultConfig() Config {
	return Config{Interval: 30 * time.Second, SweepEvery: 10, Enabled: true}
}

// Worker triggers reconciliation passes.
type Worker struct {
	engine *engine.Engine
	cfg    Config
	logger *slog.Logger
	notify chan struct{}
}

// New creates a Worker.
func New(eng *engine.Engine, cfg Config, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		engine: eng,
		cfg:    cfg,
		logger: logger,
		notify: make(chan struct{}, 1),
	}
}

// Notify requests an immediate incremental pass. It never blocks; a pass is
// already pending when the buffer is full, which is equivalent.
func (w *Worker) Notify() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// Run blocks until the context is cancelled. It performs an initial full
// sync so a restarted process converges the filesystem before serving.
func (w *Worker) Run(ctx context.Context) {
	if !w.cfg.Enabled {
		w.logger.Info("reconcile worker disabled")
		return
	}

	w.logger.Info("reconcile worker starting",
		"interval", w.cfg.Interval.String(),
		"sweepEvery", w.cfg.SweepEvery)

	startup := w.passOptions()
	startup.Force = true
	startup.Sweep = true
	if _, err := w.engine.Reconcile(ctx, nil, startup); err != nil && ctx.Err() == nil {
		w.logger.Error("startup full sync failed", "error", err)
	}

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	passes := 0
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("reconcile worker stopped")
			return
		case <-w.notify:
			w.runPass(ctx, false)
		case <-ticker.C:
			passes++
			sweepNow := w.cfg.SweepEvery > 0 && passes%w.cfg.SweepEvery == 0
			w.runPass(ctx, sweepNow)
		}
	}
}

// passOptions is the option set every worker-driven pass starts from.
func (w *Worker) passOptions() reconcile.Options {
	opts := reconcile.DefaultOptions()
	opts.Materialize.BackupExisting = w.cfg.BackupOnOverwrite
	return opts
}

func (w *Worker) runPass(ctx context.Context, sweepNow bool) {
	opts := w.passOptions()
	opts.Sweep = sweepNow
	summary, err := w.engine.Reconcile(ctx, nil, opts)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("reconciliation pass failed", "error", err)
		}
		return
	}
	if summary.Failed > 0 {
		w.logger.Warn("reconciliation pass had failures",
			"failed", summary.Failed, "total", summary.Total)
	}
}
