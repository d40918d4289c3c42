package models

import (
	"time"
)

// Operation is one completed unit of resumable work (an API page, a cursor
// position, a crawled page). Rows only exist once the work succeeded.
type Operation struct {
	ID            uint           `gorm:"primaryKey;autoIncrement" json:"-"`
	TaskID        string         `gorm:"not null;column:task_id;uniqueIndex:idx_operation_identity;index:idx_operations_task" json:"task_id"`
	OperationType string         `gorm:"not null;column:operation_type;uniqueIndex:idx_operation_identity;index:idx_operations_task" json:"operation_type"`
	OperationKey  string         `gorm:"not null;column:operation_key;uniqueIndex:idx_operation_identity" json:"operation_key"`
	CompletedAt   time.Time      `gorm:"not null;column:completed_at" json:"completed_at"`
	Metadata      map[string]any `gorm:"type:text;serializer:json" json:"metadata,omitempty"`
}

// TableName specifies the table name for GORM
func (Operation) TableName() string {
	return "operations"
}
