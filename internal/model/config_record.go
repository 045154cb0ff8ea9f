package model

import (
	"time"
)

// SyncStatus is the materialization lifecycle state of a config record.
type SyncStatus string

const (
	SyncStatusPending  SyncStatus = "pending"
	SyncStatusSynced   SyncStatus = "synced"
	SyncStatusOutdated SyncStatus = "outdated"
	SyncStatusFailed   SyncStatus = "failed"
	SyncStatusRemoved  SyncStatus = "removed"
)

// StorageTier determines the on-disk path layout for a record.
type StorageTier string

const (
	TierScoped     StorageTier = "scoped"
	TierStandalone StorageTier = "standalone"
)

// ConfigClass is the logical type of a configuration document.
type ConfigClass string

const (
	ClassStatic  ConfigClass = "static"
	ClassDynamic ConfigClass = "dynamic"
)

// ConfigRecord is the authoritative row describing one configuration
// document. Content is an opaque blob at this layer; the resolved path is
// always derivable from (tier, group, classification, id) and is persisted
// only as a convenience.
type ConfigRecord struct {
	ID             string      `gorm:"primaryKey;column:id;type:varchar(36)"`
	GroupID        *string     `gorm:"column:group_id;index:idx_config_group;type:varchar(36)"`
	Tier           StorageTier `gorm:"column:tier;not null;default:scoped"`
	Classification ConfigClass `gorm:"column:classification;not null;default:dynamic"`
	Name           string      `gorm:"column:name;not null"`
	Content        string      `gorm:"column:content"`
	Version        int         `gorm:"column:version;not null;default:1"`
	Checksum       string      `gorm:"column:checksum;index:idx_config_checksum"`
	RequiresFile   bool        `gorm:"column:requires_file;not null;default:true"`
	ConfigPath     *string     `gorm:"column:config_path;index:idx_config_path"`
	SyncStatus     SyncStatus  `gorm:"column:sync_status;index:idx_config_sync_status;not null;default:pending"`
	IsActive       bool        `gorm:"column:is_active;index:idx_config_active;not null;default:true"`
	SyncError      string      `gorm:"column:sync_error"`
	LastSyncedAt   *time.Time  `gorm:"column:last_synced_at"`
	CreatedAt      time.Time   `gorm:"column:created_at;not null"`
	UpdatedAt      time.Time   `gorm:"column:updated_at;not null"`
}

// TableName returns the GORM table name.
func (ConfigRecord) TableName() string { return "config_records" }

// NeedsSync reports whether the record would be picked up by an incremental
// reconciliation pass.
func (r *ConfigRecord) NeedsSync() bool {
	if !r.RequiresFile || !r.IsActive {
		return false
	}
	return r.LastSyncedAt == nil || r.UpdatedAt.After(*r.LastSyncedAt)
}
