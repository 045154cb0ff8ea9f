// Package store is the record store gateway: the only component that talks
// to the database. It exposes typed operations over config records, proxy
// groups and file-tracking rows; reconciliation logic lives above it.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/proxyforge/proxyforge/internal/confpath"
	"github.com/proxyforge/proxyforge/internal/model"
)

// ErrConfigNotFound is returned when an operation references a config record
// id with no corresponding row.
var ErrConfigNotFound = errors.New("config record not found")

// ConfigStore provides database operations for config records.
type ConfigStore struct {
	db *gorm.DB
}

// NewConfigStore creates a new ConfigStore.
func NewConfigStore(db *gorm.DB) *ConfigStore {
	return &ConfigStore{db: db}
}

// ListFilter narrows List results.
type ListFilter struct {
	GroupID        *string
	Classification *model.ConfigClass
	ActiveOnly     bool
}

// Create inserts a new record in pending state with no resolved path.
// Missing id and checksum are filled in.
func (s *ConfigStore) Create(rec *model.ConfigRecord) (*model.ConfigRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Checksum == "" {
		rec.Checksum = confpath.ChecksumString(rec.Content)
	}
	if rec.Version == 0 {
		rec.Version = 1
	}
	if rec.SyncStatus == "" {
		rec.SyncStatus = model.SyncStatusPending
	}
	if rec.Tier == "" {
		rec.Tier = model.TierScoped
	}
	if err := s.db.Create(rec).Error; err != nil {
		return nil, fmt.Errorf("create config record: %w", err)
	}
	return rec, nil
}

// GetByID retrieves a record by id.
func (s *ConfigStore) GetByID(id string) (*model.ConfigRecord, error) {
	var rec model.ConfigRecord
	if err := s.db.First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConfigNotFound
		}
		return nil, fmt.Errorf("get config record: %w", err)
	}
	return &rec, nil
}

// List returns records matching the filter, newest first.
func (s *ConfigStore) List(filter ListFilter) ([]model.ConfigRecord, error) {
	q := s.db.Model(&model.ConfigRecord{})
	if filter.GroupID != nil {
		q = q.Where("group_id = ?", *filter.GroupID)
	}
	if filter.Classification != nil {
		q = q.Where("classification = ?", *filter.Classification)
	}
	if filter.ActiveOnly {
		q = q.Where("is_active = ?", true)
	}
	var recs []model.ConfigRecord
	if err := q.Order("created_at DESC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list config records: %w", err)
	}
	return recs, nil
}

// ListNeedingSync returns active file-bearing records whose content changed
// since the last successful sync. Failed records remain selected because a
// failed attempt stamps updated_at without touching last_synced_at.
func (s *ConfigStore) ListNeedingSync(groupID *string) ([]model.ConfigRecord, error) {
	q := s.db.Model(&model.ConfigRecord{}).
		Where("requires_file = ? AND is_active = ?", true, true).
		Where("last_synced_at IS NULL OR updated_at > last_synced_at")
	if groupID != nil {
		q = q.Where("group_id = ?", *groupID)
	}
	var recs []model.ConfigRecord
	if err := q.Order("created_at ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list records needing sync: %w", err)
	}
	return recs, nil
}

// ListPendingRemoval returns deactivated records that still have a file to
// clean up. Together with ListNeedingSync this keeps incremental passes
// proportional to changes, not to total record count.
func (s *ConfigStore) ListPendingRemoval(groupID *string) ([]model.ConfigRecord, error) {
	q := s.db.Model(&model.ConfigRecord{}).
		Where("is_active = ? AND config_path IS NOT NULL AND sync_status <> ?", false, model.SyncStatusRemoved)
	if groupID != nil {
		q = q.Where("group_id = ?", *groupID)
	}
	var recs []model.ConfigRecord
	if err := q.Order("created_at ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list records pending removal: %w", err)
	}
	return recs, nil
}

// ListPendingStopCleanup returns records in the given groups that still have
// a file on disk to remove. Used when a scope was administratively stopped:
// its synced records are otherwise invisible to incremental selection.
func (s *ConfigStore) ListPendingStopCleanup(groupIDs []string) ([]model.ConfigRecord, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	var recs []model.ConfigRecord
	err := s.db.Model(&model.ConfigRecord{}).
		Where("group_id IN ? AND config_path IS NOT NULL AND sync_status <> ?", groupIDs, model.SyncStatusRemoved).
		Order("created_at ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list records pending stop cleanup: %w", err)
	}
	return recs, nil
}

// ListAll returns every record in scope, used by forced full passes.
func (s *ConfigStore) ListAll(groupID *string) ([]model.ConfigRecord, error) {
	q := s.db.Model(&model.ConfigRecord{})
	if groupID != nil {
		q = q.Where("group_id = ?", *groupID)
	}
	var recs []model.ConfigRecord
	if err := q.Order("created_at ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list config records: %w", err)
	}
	return recs, nil
}

// ListActiveRequiringFile returns the records whose resolved paths make up
// the expected file set for the sweeper.
func (s *ConfigStore) ListActiveRequiringFile(groupID *string) ([]model.ConfigRecord, error) {
	q := s.db.Model(&model.ConfigRecord{}).
		Where("is_active = ? AND requires_file = ?", true, true)
	if groupID != nil {
		q = q.Where("group_id = ?", *groupID)
	}
	var recs []model.ConfigRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list active file-bearing records: %w", err)
	}
	return recs, nil
}

// UpdateContent replaces a record's content, bumps its version and recomputes
// the stored checksum. A previously synced record becomes outdated so the
// next incremental pass rewrites its file.
func (s *ConfigStore) UpdateContent(id, content string) (*model.ConfigRecord, error) {
	rec, err := s.GetByID(id)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	updates := map[string]any{
		"content":    content,
		"checksum":   confpath.ChecksumString(content),
		"version":    gorm.Expr("version + 1"),
		"updated_at": now,
	}
	if rec.SyncStatus == model.SyncStatusSynced {
		updates["sync_status"] = model.SyncStatusOutdated
	}
	if err := s.db.Model(&model.ConfigRecord{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("update config content: %w", err)
	}
	return s.GetByID(id)
}

// SetPath persists the resolved relative path on the record.
func (s *ConfigStore) SetPath(id, path string) error {
	err := s.db.Model(&model.ConfigRecord{}).Where("id = ?", id).Updates(map[string]any{
		"config_path": path,
		"updated_at":  time.Now(),
	}).Error
	if err != nil {
		return fmt.Errorf("set config path: %w", err)
	}
	return nil
}

// MarkSynced records a verified materialization: the checksum is the digest
// of the bytes read back from disk. The same timestamp is used for updated_at
// and last_synced_at so the record drops out of the needs-sync set.
func (s *ConfigStore) MarkSynced(id, path, checksum string) error {
	now := time.Now()
	err := s.db.Model(&model.ConfigRecord{}).Where("id = ?", id).Updates(map[string]any{
		"sync_status":    model.SyncStatusSynced,
		"config_path":    path,
		"checksum":       checksum,
		"sync_error":     "",
		"last_synced_at": now,
		"updated_at":     now,
	}).Error
	if err != nil {
		return fmt.Errorf("mark record synced: %w", err)
	}
	return nil
}

// MarkFailed records an I/O failure. Failed is not terminal: the record stays
// selected by the needs-sync query and the next pass re-attempts it.
func (s *ConfigStore) MarkFailed(id, message string) error {
	err := s.db.Model(&model.ConfigRecord{}).Where("id = ?", id).Updates(map[string]any{
		"sync_status": model.SyncStatusFailed,
		"sync_error":  message,
		"updated_at":  time.Now(),
	}).Error
	if err != nil {
		return fmt.Errorf("mark record failed: %w", err)
	}
	return nil
}

// MarkRemoved records that the file was unlinked.
func (s *ConfigStore) MarkRemoved(id string) error {
	err := s.db.Model(&model.ConfigRecord{}).Where("id = ?", id).Updates(map[string]any{
		"sync_status": model.SyncStatusRemoved,
		"checksum":    "",
		"sync_error":  "",
		"updated_at":  time.Now(),
	}).Error
	if err != nil {
		return fmt.Errorf("mark record removed: %w", err)
	}
	return nil
}

// Deactivate soft-deletes a record. The file is removed by the next
// reconciliation pass, not here.
func (s *ConfigStore) Deactivate(id string) error {
	return s.setActive(id, false)
}

// Reactivate re-enables a record; it re-enters the needs-sync set.
func (s *ConfigStore) Reactivate(id string) error {
	return s.setActive(id, true)
}

func (s *ConfigStore) setActive(id string, active bool) error {
	updates := map[string]any{
		"is_active":  active,
		"updated_at": time.Now(),
	}
	if active {
		// Force reselection by the needs-sync query.
		updates["sync_status"] = model.SyncStatusPending
		updates["last_synced_at"] = nil
	}
	result := s.db.Model(&model.ConfigRecord{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("set record active=%t: %w", active, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrConfigNotFound
	}
	return nil
}

// FindActiveByPathAndChecksum returns the active record owning the given
// resolved path with identical content, or nil when none exists.
func (s *ConfigStore) FindActiveByPathAndChecksum(groupID *string, path, checksum string) (*model.ConfigRecord, error) {
	return s.findActive(groupID, "config_path = ? AND checksum = ?", path, checksum)
}

// FindActiveByName returns the newest active record with the given logical
// identity (classification + name) in scope, or nil when none exists.
func (s *ConfigStore) FindActiveByName(groupID *string, class model.ConfigClass, name string) (*model.ConfigRecord, error) {
	return s.findActive(groupID, "classification = ? AND name = ?", class, name)
}

// FindActiveByPath returns the active record owning the given resolved path
// regardless of content, or nil when none exists.
func (s *ConfigStore) FindActiveByPath(groupID *string, path string) (*model.ConfigRecord, error) {
	return s.findActive(groupID, "config_path = ?", path)
}

func (s *ConfigStore) findActive(groupID *string, cond string, args ...any) (*model.ConfigRecord, error) {
	q := s.db.Where("is_active = ?", true).Where(cond, args...)
	if groupID != nil {
		q = q.Where("group_id = ?", *groupID)
	}
	var rec model.ConfigRecord
	if err := q.Order("created_at DESC").First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find active record: %w", err)
	}
	return &rec, nil
}

// DeleteByID hard-deletes a record row and its file-tracking row. Reserved
// for explicit cleanup and merge operations; normal withdrawal goes through
// Deactivate.
func (s *ConfigStore) DeleteByID(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("record_id = ?", id).Delete(&model.FileRecord{}).Error; err != nil {
			return fmt.Errorf("delete file-tracking row: %w", err)
		}
		if err := tx.Where("id = ?", id).Delete(&model.ConfigRecord{}).Error; err != nil {
			return fmt.Errorf("delete config record: %w", err)
		}
		return nil
	})
}

// DuplicateSets groups active path-bearing records by (path, checksum) and
// returns every set with more than one member, newest created first within
// each set.
func (s *ConfigStore) DuplicateSets(groupID *string) ([][]model.ConfigRecord, error) {
	q := s.db.Model(&model.ConfigRecord{}).
		Where("is_active = ? AND config_path IS NOT NULL", true)
	if groupID != nil {
		q = q.Where("group_id = ?", *groupID)
	}
	var recs []model.ConfigRecord
	if err := q.Order("created_at DESC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list records for duplicate scan: %w", err)
	}

	byKey := make(map[string][]model.ConfigRecord)
	var order []string
	for _, rec := range recs {
		key := *rec.ConfigPath + "\x00" + rec.Checksum
		if _, seen := byKey[key]; !seen {
			order = append(order, key)
		}
		byKey[key] = append(byKey[key], rec)
	}

	var sets [][]model.ConfigRecord
	for _, key := range order {
		if set := byKey[key]; len(set) > 1 {
			sets = append(sets, set)
		}
	}
	return sets, nil
}

// UpsertFileRecord creates or updates the file-tracking row for a record.
func (s *ConfigStore) UpsertFileRecord(recordID, path, checksum string, size int64) error {
	var row model.FileRecord
	err := s.db.Where("record_id = ?", recordID).First(&row).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("lookup file-tracking row: %w", err)
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row = model.FileRecord{RecordID: recordID}
	}
	row.Path = path
	row.Checksum = checksum
	row.Size = size
	row.WrittenAt = time.Now()
	if err := s.db.Save(&row).Error; err != nil {
		return fmt.Errorf("save file-tracking row: %w", err)
	}
	return nil
}

// DeleteFileRecord removes the file-tracking row for a record, if any.
func (s *ConfigStore) DeleteFileRecord(recordID string) error {
	if err := s.db.Where("record_id = ?", recordID).Delete(&model.FileRecord{}).Error; err != nil {
		return fmt.Errorf("delete file-tracking row: %w", err)
	}
	return nil
}
