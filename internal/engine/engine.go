// Package engine is the facade upstream producers talk to: config admission
// through the deduplicator, activation toggles, listings, and the
// reconcile/sweep entry points used by the worker, API and CLI.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/proxyforge/proxyforge/internal/confpath"
	"github.com/proxyforge/proxyforge/internal/dedup"
	"github.com/proxyforge/proxyforge/internal/materialize"
	"github.com/proxyforge/proxyforge/internal/model"
	"github.com/proxyforge/proxyforge/internal/reconcile"
	"github.com/proxyforge/proxyforge/internal/store"
	"github.com/proxyforge/proxyforge/internal/sweep"
)

// Engine wires the reconciliation components together behind one interface.
type Engine struct {
	configs    *store.ConfigStore
	groups     *store.GroupStore
	dedup      *dedup.Deduplicator
	reconciler *reconcile.Reconciler
	sweeper    *sweep.Sweeper
	logger     *slog.Logger
}

// New constructs an Engine and its components rooted at basePath.
func New(basePath string, configs *store.ConfigStore, groups *store.GroupStore, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	mat := materialize.New(basePath, configs, groups, logger)
	sweeper := sweep.New(basePath, configs, groups, logger)
	return &Engine{
		configs:    configs,
		groups:     groups,
		dedup:      dedup.New(configs, logger),
		reconciler: reconcile.New(configs, groups, mat, sweeper, logger),
		sweeper:    sweeper,
		logger:     logger,
	}
}

// ConfigInput describes one config document to admit.
type ConfigInput struct {
	GroupID        *string
	Tier           model.StorageTier
	Classification model.ConfigClass
	Name           string
	Content        string
	RequiresFile   bool
}

// CreateOrUpdateConfig admits a config document through the deduplicator and
// returns the id of the record that owns it afterwards. Repeated calls with
// identical identity and content are idempotent; a call with changed content
// updates the existing record in place instead of creating a second claimant
// for the same file.
func (e *Engine) CreateOrUpdateConfig(in ConfigInput) (string, error) {
	if in.Name == "" {
		return "", fmt.Errorf("config name is required")
	}
	if in.Tier == "" {
		in.Tier = model.TierScoped
	}
	if in.Classification == "" {
		in.Classification = model.ClassDynamic
	}

	existing, err := e.configs.FindActiveByName(in.GroupID, in.Classification, in.Name)
	if err != nil {
		return "", err
	}
	if existing == nil {
		rec, err := e.configs.Create(&model.ConfigRecord{
			GroupID:        in.GroupID,
			Tier:           in.Tier,
			Classification: in.Classification,
			Name:           in.Name,
			Content:        in.Content,
			RequiresFile:   in.RequiresFile,
		})
		if err != nil {
			return "", err
		}
		return rec.ID, nil
	}

	targetPath, err := e.resolvedPath(existing)
	if err != nil {
		return "", err
	}

	decision, err := e.dedup.AdmitOrReuse(in.GroupID, targetPath, in.Content)
	if err != nil {
		return "", err
	}

	switch decision.Reason {
	case dedup.ReasonExactDuplicate:
		return decision.ExistingID, nil
	case dedup.ReasonPathConflict:
		if _, err := e.configs.UpdateContent(decision.ExistingID, in.Content); err != nil {
			return "", err
		}
		return decision.ExistingID, nil
	default:
		// The named record exists but has never claimed its path (still
		// pending). Reuse it rather than admitting a rival for the same path.
		if existing.Checksum != decision.Checksum {
			if _, err := e.configs.UpdateContent(existing.ID, in.Content); err != nil {
				return "", err
			}
		}
		return existing.ID, nil
	}
}

// Deactivate withdraws a record; the next reconciliation pass removes its file.
func (e *Engine) Deactivate(id string) error {
	return e.configs.Deactivate(id)
}

// Reactivate re-enables a record; the next pass rematerializes it.
func (e *Engine) Reactivate(id string) error {
	return e.configs.Reactivate(id)
}

// ListConfigs returns records matching the filter.
func (e *Engine) ListConfigs(filter store.ListFilter) ([]model.ConfigRecord, error) {
	return e.configs.List(filter)
}

// GetConfig returns one record by id.
func (e *Engine) GetConfig(id string) (*model.ConfigRecord, error) {
	return e.configs.GetByID(id)
}

// Reconcile runs one reconciliation pass.
func (e *Engine) Reconcile(ctx context.Context, scopeID *string, opts reconcile.Options) (*reconcile.Summary, error) {
	return e.reconciler.Reconcile(ctx, scopeID, opts)
}

// FullSync is the strong consistency operation: a forced pass over every
// in-scope record followed by an orphan sweep.
func (e *Engine) FullSync(ctx context.Context, scopeID *string) (*reconcile.Summary, error) {
	opts := reconcile.DefaultOptions()
	opts.Force = true
	opts.Sweep = true
	return e.reconciler.Reconcile(ctx, scopeID, opts)
}

// Sweep removes orphan files without running a per-record pass first.
func (e *Engine) Sweep(ctx context.Context, scopeID *string) ([]string, error) {
	return e.sweeper.Sweep(ctx, scopeID)
}

// MergeDuplicates collapses pre-existing duplicate records.
func (e *Engine) MergeDuplicates(groupID *string) (int, error) {
	return e.dedup.MergeDuplicates(groupID)
}

// CreateGroup registers a new scope owner.
func (e *Engine) CreateGroup(name string) (*model.ProxyGroup, error) {
	return e.groups.Create(name)
}

// ListGroups returns all scope owners.
func (e *Engine) ListGroups() ([]model.ProxyGroup, error) {
	return e.groups.List()
}

// SetGroupStatus transitions a group between running and stopped. Stopping a
// group makes the next pass remove every file under it.
func (e *Engine) SetGroupStatus(id string, status model.GroupStatus) error {
	return e.groups.SetStatus(id, status)
}

// resolvedPath returns the record's stored path, or recomputes it from
// identity when it was never materialized.
func (e *Engine) resolvedPath(rec *model.ConfigRecord) (string, error) {
	if rec.ConfigPath != nil && *rec.ConfigPath != "" {
		return *rec.ConfigPath, nil
	}
	groupName := ""
	if rec.GroupID != nil {
		name, err := e.groups.NameByID(*rec.GroupID)
		if err != nil {
			return "", err
		}
		groupName = name
	}
	return confpath.ResolveRecordPath(rec, groupName), nil
}
