package model

import (
	"time"
)

// GroupStatus is the operational state of a proxy group. A stopped group
// must have no config files on disk, regardless of per-record activity.
type GroupStatus string

const (
	GroupStatusRunning GroupStatus = "running"
	GroupStatusStopped GroupStatus = "stopped"
)

// ProxyGroup is the scope owner for config records: one group per managed
// proxy instance. Records without a group are standalone/global.
type ProxyGroup struct {
	ID        string      `gorm:"primaryKey;column:id;type:varchar(36)"`
	Name      string      `gorm:"column:name;uniqueIndex:idx_group_name;not null"`
	Status    GroupStatus `gorm:"column:status;not null;default:running"`
	CreatedAt time.Time   `gorm:"column:created_at;not null"`
	UpdatedAt time.Time   `gorm:"column:updated_at;not null"`
}

// TableName returns the GORM table name.
func (ProxyGroup) TableName() string { return "proxy_groups" }
