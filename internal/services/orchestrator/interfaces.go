package orchestrator

import (
	"context"

	"eauharvest/internal/playbook"
)

//go:generate mockgen -source=interfaces.go -destination=mocks/mock.go

// TaskLedger is the task-level part of the state store
type TaskLedger interface {
	StartTask(ctx context.Context, taskID string, metadata map[string]any) error
	CompleteTask(ctx context.Context, taskID string, metadata map[string]any) error
	IsTaskCompleted(ctx context.Context, taskID string) (bool, error)
}

// Runner executes one kind of playbook task and returns the metadata stored
// with its completion
type Runner interface {
	Run(ctx context.Context, task playbook.Task) (map[string]any, error)
}

// Processor executes a post-processing action (OCR, spatial join, graph
// building) over files produced by earlier tasks
type Processor interface {
	Process(ctx context.Context, task playbook.Task) (map[string]any, error)
}
