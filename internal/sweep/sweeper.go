// Package sweep deletes config files that no active record accounts for.
// It is the backstop that makes the engine tolerant of partial failures
// elsewhere: rows deleted without a remove call, crashes between record and
// file mutations, or files planted by hand all converge back to the record
// store's truth on the next sweep.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/proxyforge/proxyforge/internal/confpath"
	"github.com/proxyforge/proxyforge/internal/model"
	"github.com/proxyforge/proxyforge/internal/store"
)

// Sweeper walks the managed subtree and removes orphan files.
type Sweeper struct {
	basePath string
	configs  *store.ConfigStore
	groups   *store.GroupStore
	logger   *slog.Logger
}

// New creates a Sweeper rooted at basePath.
func New(basePath string, configs *store.ConfigStore, groups *store.GroupStore, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{basePath: basePath, configs: configs, groups: groups, logger: logger}
}

// Sweep removes every config file not accounted for by an active,
// file-bearing record and returns the relative paths it actually deleted.
// With a scope id the walk is confined to that group's subtree; a stopped
// group's subtree is cleared unconditionally. Deletion failures are logged
// and skipped.
func (s *Sweeper) Sweep(ctx context.Context, scopeID *string) ([]string, error) {
	walkRoot := s.basePath

	if scopeID != nil {
		group, err := s.groups.GetByID(*scopeID)
		if err != nil {
			return nil, fmt.Errorf("resolve sweep scope: %w", err)
		}
		// A name with separators or dot segments would walk (and delete)
		// outside the base path.
		if !confpath.ValidGroupName(group.Name) {
			return nil, fmt.Errorf("sweep scope %s: unsafe group name %q", *scopeID, group.Name)
		}
		walkRoot = filepath.Join(s.basePath, filepath.FromSlash(confpath.GroupDir(group.Name)))
		if group.Status == model.GroupStatusStopped {
			// Administrative stop must leave no stale route reachable.
			return s.removeAll(ctx, walkRoot)
		}
	}

	expected, err := s.expectedPaths(scopeID)
	if err != nil {
		return nil, err
	}

	var removed []string
	err = filepath.WalkDir(walkRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return nil
			}
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !isConfigFile(path) {
			return nil
		}

		rel, err := filepath.Rel(s.basePath, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if expected[rel] {
			return nil
		}

		if err := os.Remove(path); err != nil {
			s.logger.Error("failed to remove orphan file", "path", rel, "error", err)
			return nil
		}
		s.logger.Info("removed orphan file", "path", rel)
		removed = append(removed, rel)
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return removed, nil
		}
		return removed, fmt.Errorf("sweep walk: %w", err)
	}
	return removed, nil
}

// expectedPaths recomputes the set of paths that should exist from record
// identity alone, independent of what is stored on the rows. Recomputing
// makes the sweep self-healing even when stored paths are stale.
func (s *Sweeper) expectedPaths(scopeID *string) (map[string]bool, error) {
	recs, err := s.configs.ListActiveRequiringFile(scopeID)
	if err != nil {
		return nil, err
	}

	// Stopped groups contribute nothing: their files are all orphans.
	groupNames := make(map[string]string)
	stopped := make(map[string]bool)

	expected := make(map[string]bool, len(recs))
	for _, rec := range recs {
		groupName := ""
		if rec.GroupID != nil {
			id := *rec.GroupID
			if _, seen := groupNames[id]; !seen {
				group, err := s.groups.GetByID(id)
				if err == nil {
					groupNames[id] = group.Name
					stopped[id] = group.Status == model.GroupStatusStopped
				} else if errors.Is(err, store.ErrGroupNotFound) {
					groupNames[id] = ""
				} else {
					return nil, fmt.Errorf("resolve group for sweep: %w", err)
				}
			}
			if stopped[id] {
				continue
			}
			groupName = groupNames[id]
		}
		expected[confpath.ResolveRecordPath(&rec, groupName)] = true
	}
	return expected, nil
}

// removeAll deletes every config file under root, used for stopped scopes.
func (s *Sweeper) removeAll(ctx context.Context, root string) ([]string, error) {
	var removed []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return nil
			}
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !isConfigFile(path) {
			return nil
		}
		rel, err := filepath.Rel(s.basePath, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if err := os.Remove(path); err != nil {
			s.logger.Error("failed to remove file for stopped scope", "path", rel, "error", err)
			return nil
		}
		removed = append(removed, rel)
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return removed, fmt.Errorf("sweep stopped scope: %w", err)
	}
	return removed, nil
}

func isConfigFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
