package models

import (
	"time"
)

// TaskStatus is the lifecycle state of a harvest task in the ledger
type TaskStatus string

const (
	TaskNotStarted TaskStatus = "not_started"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

// Task tracks one named pipeline task (t1, t4, pp1, ...) across runs
type Task struct {
	TaskID      string         `gorm:"primaryKey;column:task_id" json:"task_id"`
	Status      TaskStatus     `gorm:"not null" json:"status"`
	StartedAt   *time.Time     `gorm:"column:started_at" json:"started_at"`
	CompletedAt *time.Time     `gorm:"column:completed_at" json:"completed_at"`
	Metadata    map[string]any `gorm:"type:text;serializer:json" json:"metadata"`
}

// TableName specifies the table name for GORM
func (Task) TableName() string {
	return "tasks"
}
