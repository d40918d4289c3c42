package scheduler

import (
	"context"

	"eauharvest/internal/services/orchestrator"
)

// Runner executes a harvest over the playbook; *orchestrator.Orchestrator
// satisfies it
type Runner interface {
	Run(ctx context.Context, opts orchestrator.RunOptions) (*orchestrator.Report, error)
}

// JobListResponse represents a scheduled job in list responses
type JobListResponse struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Cron      string   `json:"cron"`
	Timezone  string   `json:"timezone"`
	Tasks     []string `json:"tasks"`
	Force     bool     `json:"force"`
	Enabled   bool     `json:"enabled"`
	LastRunAt *string  `json:"last_run_at"` // ISO 8601 format
	LastError string   `json:"last_error,omitempty"`
	NextRun   *string  `json:"next_run"` // ISO 8601 format
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at"`
}

// UpsertJobRequest creates or updates a scheduled job, matched by name
type UpsertJobRequest struct {
	Name     string   `json:"name" mapstructure:"name"`
	Cron     string   `json:"cron" mapstructure:"cron"`
	Timezone string   `json:"timezone" mapstructure:"timezone"`
	Tasks    []string `json:"tasks" mapstructure:"tasks"` // empty runs every task
	Force    bool     `json:"force" mapstructure:"force"` // re-run completed tasks
	Enabled  bool     `json:"enabled" mapstructure:"enabled"`
}
