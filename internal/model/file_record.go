package model

import (
	"time"
)

// FileRecord tracks one materialized file on disk. It is written after a
// verified materialization and deleted when the file is removed, so it always
// mirrors what the engine last wrote, not what the record currently wants.
type FileRecord struct {
	ID        uint      `gorm:"primaryKey;autoIncrement;column:id"`
	RecordID  string    `gorm:"column:record_id;uniqueIndex:idx_file_record;type:varchar(36);not null"`
	Path      string    `gorm:"column:path;not null"`
	Checksum  string    `gorm:"column:checksum;not null"`
	Size      int64     `gorm:"column:size"`
	WrittenAt time.Time `gorm:"column:written_at;not null"`
}

// TableName returns the GORM table name.
func (FileRecord) TableName() string { return "file_records" }
