// Package materialize writes config records to disk and removes them. Every
// write is atomic (temp file + rename) and verified by re-reading and
// re-hashing the written bytes, because the proxy process reads these files
// asynchronously and must never observe partial or corrupt content.
package materialize

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/proxyforge/proxyforge/internal/confpath"
	"github.com/proxyforge/proxyforge/internal/model"
	"github.com/proxyforge/proxyforge/internal/store"
)

// Action describes what a materialize or remove call did.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionSkipped Action = "skipped"
	ActionRemoved Action = "removed"
	ActionError   Action = "error"
)

// SyncResult is the per-record outcome of a materialize or remove operation.
type SyncResult struct {
	RecordID string `json:"recordId"`
	Action   Action `json:"action"`
	Path     string `json:"path,omitempty"`
	Checksum string `json:"checksum,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Success reports whether the operation left the record consistent.
func (r *SyncResult) Success() bool { return r.Action != ActionError }

// Options controls one materialization.
type Options struct {
	// ForceSync rewrites the file even when the existing one already matches.
	ForceSync bool
	// VerifyChecksum re-hashes the on-disk bytes before deciding to skip.
	VerifyChecksum bool
	// BackupExisting copies the current file to a timestamped sibling before
	// overwriting it.
	BackupExisting bool
}

// Materializer performs verified file writes under one base path. The base
// path is explicit construction-time configuration; nothing else writes
// under it.
type Materializer struct {
	basePath string
	configs  *store.ConfigStore
	groups   *store.GroupStore
	logger   *slog.Logger
}

// New creates a Materializer rooted at basePath.
func New(basePath string, configs *store.ConfigStore, groups *store.GroupStore, logger *slog.Logger) *Materializer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Materializer{basePath: basePath, configs: configs, groups: groups, logger: logger}
}

// BasePath returns the configured filesystem root.
func (m *Materializer) BasePath() string { return m.basePath }

// Materialize ensures the on-disk file is an exact, verified copy of the
// record's content. On any failure the record is marked failed with the error
// message so it is never left pending after an attempt the caller believes
// happened.
func (m *Materializer) Materialize(ctx context.Context, rec *model.ConfigRecord, opts Options) *SyncResult {
	if err := ctx.Err(); err != nil {
		return m.fail(rec, "", err)
	}
	if !rec.RequiresFile {
		return m.fail(rec, "", fmt.Errorf("record %s does not require a file", rec.ID))
	}

	relPath, err := m.ensurePath(rec)
	if err != nil {
		return m.fail(rec, "", err)
	}
	absPath := filepath.Join(m.basePath, filepath.FromSlash(relPath))

	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return m.fail(rec, relPath, fmt.Errorf("create config directory: %w", err))
	}

	contentSum := confpath.ChecksumString(rec.Content)
	existing, statErr := os.Stat(absPath)
	fileExists := statErr == nil

	if !opts.ForceSync && fileExists {
		if skipped := m.trySkip(rec, relPath, absPath, contentSum, existing.Size(), opts); skipped != nil {
			return skipped
		}
	}

	if opts.BackupExisting && fileExists {
		if err := backupFile(absPath); err != nil {
			return m.fail(rec, relPath, fmt.Errorf("backup existing file: %w", err))
		}
	}

	if err := writeFileAtomic(absPath, []byte(rec.Content)); err != nil {
		return m.fail(rec, relPath, fmt.Errorf("write config file: %w", err))
	}

	// Close the loop against silent write corruption: the digest of the bytes
	// read back becomes the record's source-of-truth checksum.
	written, err := os.ReadFile(absPath)
	if err != nil {
		return m.fail(rec, relPath, fmt.Errorf("read back written file: %w", err))
	}
	verifiedSum := confpath.Checksum(written)
	if verifiedSum != contentSum {
		return m.fail(rec, relPath, fmt.Errorf("checksum mismatch after write: want %s, got %s", contentSum, verifiedSum))
	}

	if err := m.configs.MarkSynced(rec.ID, relPath, verifiedSum); err != nil {
		return m.fail(rec, relPath, err)
	}
	if err := m.configs.UpsertFileRecord(rec.ID, relPath, verifiedSum, int64(len(written))); err != nil {
		return m.fail(rec, relPath, err)
	}

	action := ActionUpdated
	if !fileExists {
		action = ActionCreated
	}
	m.logger.Debug("materialized config record", "recordID", rec.ID, "path", relPath, "action", action)
	return &SyncResult{
		RecordID: rec.ID,
		Action:   action,
		Path:     relPath,
		Checksum: verifiedSum,
		Size:     int64(len(written)),
	}
}

// trySkip returns a skipped result when the existing file already matches the
// record, or nil when a write is needed.
func (m *Materializer) trySkip(rec *model.ConfigRecord, relPath, absPath, contentSum string, size int64, opts Options) *SyncResult {
	if opts.VerifyChecksum {
		disk, err := os.ReadFile(absPath)
		if err != nil {
			return nil // unreadable file gets rewritten
		}
		if confpath.Checksum(disk) != contentSum {
			return nil
		}
		// Verified match. Stamp the sync so the record leaves the
		// needs-sync set even when it arrived here outdated or failed.
		if err := m.configs.MarkSynced(rec.ID, relPath, contentSum); err != nil {
			return m.fail(rec, relPath, err)
		}
		return &SyncResult{
			RecordID: rec.ID,
			Action:   ActionSkipped,
			Path:     relPath,
			Checksum: contentSum,
			Size:     int64(len(disk)),
			Message:  "file already matches content",
		}
	}

	if rec.SyncStatus == model.SyncStatusSynced && rec.Checksum == contentSum {
		return &SyncResult{
			RecordID: rec.ID,
			Action:   ActionSkipped,
			Path:     relPath,
			Checksum: contentSum,
			Size:     size,
			Message:  "record already synced",
		}
	}
	return nil
}

// Remove unlinks a record's file. It is safe to call twice: a missing path or
// an already-absent file is success, and the record still ends up removed.
func (m *Materializer) Remove(ctx context.Context, rec *model.ConfigRecord) *SyncResult {
	if err := ctx.Err(); err != nil {
		return m.fail(rec, "", err)
	}

	relPath := ""
	if rec.ConfigPath != nil {
		relPath = *rec.ConfigPath
	}

	action := ActionSkipped
	message := "already absent"
	if relPath != "" {
		absPath := filepath.Join(m.basePath, filepath.FromSlash(relPath))
		switch err := os.Remove(absPath); {
		case err == nil:
			action = ActionRemoved
			message = ""
		case os.IsNotExist(err):
			// already absent
		default:
			return m.fail(rec, relPath, fmt.Errorf("remove config file: %w", err))
		}
	}

	if err := m.configs.MarkRemoved(rec.ID); err != nil {
		return m.fail(rec, relPath, err)
	}
	if err := m.configs.DeleteFileRecord(rec.ID); err != nil {
		return m.fail(rec, relPath, err)
	}

	m.logger.Debug("removed config record file", "recordID", rec.ID, "path", relPath, "action", action)
	return &SyncResult{RecordID: rec.ID, Action: action, Path: relPath, Message: message}
}

// ensurePath resolves and persists the record's relative path if unset.
func (m *Materializer) ensurePath(rec *model.ConfigRecord) (string, error) {
	if rec.ConfigPath != nil && *rec.ConfigPath != "" {
		return *rec.ConfigPath, nil
	}

	groupName := ""
	if rec.GroupID != nil {
		name, err := m.groups.NameByID(*rec.GroupID)
		if err != nil {
			return "", fmt.Errorf("resolve group name: %w", err)
		}
		groupName = name
	}

	relPath := confpath.ResolveRecordPath(rec, groupName)
	if err := m.configs.SetPath(rec.ID, relPath); err != nil {
		return "", err
	}
	rec.ConfigPath = &relPath
	return relPath, nil
}

func (m *Materializer) fail(rec *model.ConfigRecord, relPath string, cause error) *SyncResult {
	m.logger.Error("sync failed", "recordID", rec.ID, "path", relPath, "error", cause)
	if err := m.configs.MarkFailed(rec.ID, cause.Error()); err != nil {
		m.logger.Error("failed to record sync error", "recordID", rec.ID, "error", err)
	}
	return &SyncResult{RecordID: rec.ID, Action: ActionError, Path: relPath, Message: cause.Error()}
}

// writeFileAtomic writes data to a temp file in the target's directory and
// renames it over the target, so readers never observe partial content.
func writeFileAtomic(target string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), ".proxyforge-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, target)
}

// backupFile copies src to a timestamped sibling. Copy, never move: this is
// the one place data could be destructively lost.
func backupFile(src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	backupPath := fmt.Sprintf("%s.bak.%s", src, time.Now().Format("20060102T150405"))
	out, err := os.OpenFile(backupPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
