package models

import (
	"time"
)

// Download records a file fetched for a task. FileHash and FileSize are nil
// when the file was missing at record time.
type Download struct {
	ID           uint           `gorm:"primaryKey;autoIncrement" json:"-"`
	TaskID       string         `gorm:"not null;column:task_id;uniqueIndex:idx_download_identity;index:idx_downloads_task" json:"task_id"`
	URL          string         `gorm:"not null;column:url;uniqueIndex:idx_download_identity" json:"url"`
	LocalPath    string         `gorm:"not null;column:local_path" json:"local_path"`
	FileHash     *string        `gorm:"column:file_hash" json:"file_hash"`
	FileSize     *int64         `gorm:"column:file_size" json:"file_size"`
	DownloadedAt time.Time      `gorm:"not null;column:downloaded_at" json:"downloaded_at"`
	Metadata     map[string]any `gorm:"type:text;serializer:json" json:"metadata,omitempty"`
}

// TableName specifies the table name for GORM
func (Download) TableName() string {
	return "downloads"
}
