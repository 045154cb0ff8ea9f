// Package api exposes the thin admin HTTP surface over the engine: config
// admission, activation toggles, pass triggers and group state. All
// reconciliation semantics live below it.
package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/proxyforge/proxyforge/internal/engine"
)

// Notifier is pinged after every mutation so the background worker can run
// an immediate incremental pass.
type Notifier interface {
	Notify()
}

// noopNotifier is used when no worker is running.
type noopNotifier struct{}

func (noopNotifier) Notify() {}

// Router builds the admin API router.
func Router(eng *engine.Engine, notifier Notifier, logger *slog.Logger) chi.Router {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = noopNotifier{}
	}
	h := &handlers{engine: eng, notifier: notifier, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/healthz", h.health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/configs", h.createOrUpdateConfig)
		r.Get("/configs", h.listConfigs)
		r.Get("/configs/{id}", h.getConfig)
		r.Post("/configs/{id}:deactivate", h.deactivateConfig)
		r.Post("/configs/{id}:reactivate", h.reactivateConfig)
		r.Post("/configs:merge", h.mergeDuplicates)

		r.Post("/reconcile", h.reconcile)
		r.Post("/sweep", h.sweep)

		r.Post("/groups", h.createGroup)
		r.Get("/groups", h.listGroups)
		r.Post("/groups/{id}:start", h.startGroup)
		r.Post("/groups/{id}:stop", h.stopGroup)
	})

	return r
}
