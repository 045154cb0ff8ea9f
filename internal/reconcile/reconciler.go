// Package reconcile drives full and incremental reconciliation passes: it
// decides per (record, scope) whether to materialize, remove or skip, and
// optionally runs the orphan sweeper afterwards. Filesystem state equals
// database state only after both halves of a pass complete.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/proxyforge/proxyforge/internal/materialize"
	"github.com/proxyforge/proxyforge/internal/model"
	"github.com/proxyforge/proxyforge/internal/store"
	"github.com/proxyforge/proxyforge/internal/sweep"
)

// Options controls one reconciliation pass.
type Options struct {
	// Force walks every record in scope instead of only those needing sync.
	Force bool
	// Sweep runs the orphan sweeper after the per-record pass.
	Sweep bool
	// Materialize is passed through to each materialize call.
	Materialize materialize.Options
}

// DefaultOptions is the routine incremental pass configuration.
func DefaultOptions() Options {
	return Options{Materialize: materialize.Options{VerifyChecksum: true}}
}

// Summary is the structured outcome of one pass, suitable for logging or a
// status endpoint. A non-zero Failed count is an alerting signal, not a hard
// failure: the pass makes forward progress despite individual faults.
type Summary struct {
	ScopeID        *string                  `json:"scopeId,omitempty"`
	StartedAt      time.Time                `json:"startedAt"`
	Duration       time.Duration            `json:"duration"`
	Total          int                      `json:"total"`
	Successful     int                      `json:"successful"`
	Failed         int                      `json:"failed"`
	Created        int                      `json:"created"`
	Updated        int                      `json:"updated"`
	Skipped        int                      `json:"skipped"`
	Removed        int                      `json:"removed"`
	Results        []materialize.SyncResult `json:"results"`
	OrphansRemoved []string                 `json:"orphansRemoved,omitempty"`
}

func (s *Summary) add(res *materialize.SyncResult) {
	s.Total++
	s.Results = append(s.Results, *res)
	if res.Success() {
		s.Successful++
	} else {
		s.Failed++
	}
	switch res.Action {
	case materialize.ActionCreated:
		s.Created++
	case materialize.ActionUpdated:
		s.Updated++
	case materialize.ActionSkipped:
		s.Skipped++
	case materialize.ActionRemoved:
		s.Removed++
	}
}

// Reconciler orchestrates passes over the record store and filesystem.
type Reconciler struct {
	configs *store.ConfigStore
	groups  *store.GroupStore
	mat     *materialize.Materializer
	sweeper *sweep.Sweeper
	logger  *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Reconciler.
func New(configs *store.ConfigStore, groups *store.GroupStore, mat *materialize.Materializer, sweeper *sweep.Sweeper, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		configs: configs,
		groups:  groups,
		mat:     mat,
		sweeper: sweeper,
		logger:  logger,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Reconcile runs one pass, scoped to a group when scopeID is non-nil.
// Passes for the same scope are serialized: an interleaved sweep from one
// pass could otherwise delete a file another pass just wrote.
func (r *Reconciler) Reconcile(ctx context.Context, scopeID *string, opts Options) (*Summary, error) {
	unlock := r.lockScope(scopeID)
	defer unlock()

	summary := &Summary{ScopeID: scopeID, StartedAt: time.Now()}

	recs, err := r.workingSet(scopeID, opts)
	if err != nil {
		return nil, err
	}

	statuses := make(map[string]model.GroupStatus)
	for i := range recs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		rec := &recs[i]

		status := model.GroupStatusRunning
		if rec.GroupID != nil {
			cached, ok := statuses[*rec.GroupID]
			if !ok {
				cached, err = r.groups.OperationalState(*rec.GroupID)
				if err != nil {
					return summary, fmt.Errorf("resolve scope state: %w", err)
				}
				statuses[*rec.GroupID] = cached
			}
			status = cached
		}

		if res := r.reconcileOne(ctx, rec, status, opts); res != nil {
			summary.add(res)
		}
	}

	if opts.Sweep {
		orphans, err := r.sweeper.Sweep(ctx, scopeID)
		if err != nil {
			return summary, fmt.Errorf("post-pass sweep: %w", err)
		}
		summary.OrphansRemoved = orphans
	}

	summary.Duration = time.Since(summary.StartedAt)
	r.logger.Info("reconciliation pass finished",
		"total", summary.Total,
		"successful", summary.Successful,
		"failed", summary.Failed,
		"orphansRemoved", len(summary.OrphansRemoved),
		"duration", summary.Duration.String())
	return summary, nil
}

// reconcileOne applies the per-(record, scope) decision table. A nil result
// means the record required no action at all.
func (r *Reconciler) reconcileOne(ctx context.Context, rec *model.ConfigRecord, status model.GroupStatus, opts Options) *materialize.SyncResult {
	if status == model.GroupStatusStopped {
		// Administrative stop removes all files regardless of record activity.
		if rec.ConfigPath == nil {
			return nil
		}
		return r.mat.Remove(ctx, rec)
	}

	switch {
	case rec.IsActive && rec.RequiresFile:
		return r.mat.Materialize(ctx, rec, opts.Materialize)
	case !rec.IsActive && rec.ConfigPath != nil:
		return r.mat.Remove(ctx, rec)
	default:
		return nil
	}
}

// workingSet selects the records a pass visits. Incremental passes scale with
// changes (needs-sync plus pending-removal), forced passes walk everything.
func (r *Reconciler) workingSet(scopeID *string, opts Options) ([]model.ConfigRecord, error) {
	if opts.Force {
		return r.configs.ListAll(scopeID)
	}

	needSync, err := r.configs.ListNeedingSync(scopeID)
	if err != nil {
		return nil, err
	}
	pendingRemoval, err := r.configs.ListPendingRemoval(scopeID)
	if err != nil {
		return nil, err
	}

	// Records under a stopped group are neither needing sync nor pending
	// removal, yet their files must go.
	stopCleanup, err := r.stopCleanupSet(scopeID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(needSync))
	recs := make([]model.ConfigRecord, 0, len(needSync)+len(pendingRemoval)+len(stopCleanup))
	for _, rec := range needSync {
		seen[rec.ID] = true
		recs = append(recs, rec)
	}
	for _, rec := range append(pendingRemoval, stopCleanup...) {
		if !seen[rec.ID] {
			seen[rec.ID] = true
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

func (r *Reconciler) stopCleanupSet(scopeID *string) ([]model.ConfigRecord, error) {
	stopped, err := r.groups.ListByStatus(model.GroupStatusStopped)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, group := range stopped {
		if scopeID == nil || group.ID == *scopeID {
			ids = append(ids, group.ID)
		}
	}
	return r.configs.ListPendingStopCleanup(ids)
}

// lockScope serializes passes per scope. The global pass and scoped passes
// use distinct keys; callers that need strict global exclusion run the global
// pass only.
func (r *Reconciler) lockScope(scopeID *string) func() {
	key := ""
	if scopeID != nil {
		key = *scopeID
	}

	r.mu.Lock()
	lock, ok := r.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[key] = lock
	}
	r.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
