// Package orchestrator sequences playbook tasks over the state ledger.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog/log"

	"eauharvest/internal/playbook"
)

var (
	ErrUnknownTaskKind = errors.New("no runner for task kind")
	ErrNoProcessor     = errors.New("no processor registered for action")
)

// RunnerFunc adapts a function to Runner
type RunnerFunc func(ctx context.Context, task playbook.Task) (map[string]any, error)

func (f RunnerFunc) Run(ctx context.Context, task playbook.Task) (map[string]any, error) {
	return f(ctx, task)
}

// ProcessorFunc adapts a function to Processor
type ProcessorFunc func(ctx context.Context, task playbook.Task) (map[string]any, error)

func (f ProcessorFunc) Process(ctx context.Context, task playbook.Task) (map[string]any, error) {
	return f(ctx, task)
}

// RunOptions select what a run executes
type RunOptions struct {
	Tasks           []string // empty runs everything
	SkipCompleted   bool
	ContinueOnError bool
}

// Report lists what happened to each task of a run
type Report struct {
	Completed []string      `json:"completed"`
	Skipped   []string      `json:"skipped"`
	Failed    []string      `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

type Orchestrator struct {
	playbook   *playbook.Playbook
	ledger     TaskLedger
	runners    map[string]Runner
	processors map[string]Processor
}

func New(pb *playbook.Playbook, ledger TaskLedger) *Orchestrator {
	return &Orchestrator{
		playbook:   pb,
		ledger:     ledger,
		runners:    make(map[string]Runner),
		processors: make(map[string]Processor),
	}
}

// Register binds a runner to a task kind
func (o *Orchestrator) Register(kind string, r Runner) {
	o.runners[kind] = r
}

// RegisterProcessor binds a processor to a post-processing action
func (o *Orchestrator) RegisterProcessor(action string, p Processor) {
	o.processors[action] = p
}

// ShouldRun applies the task filter, then the completed check when skipping
// completed tasks
func (o *Orchestrator) ShouldRun(ctx context.Context, taskID string, opts RunOptions) (bool, error) {
	if len(opts.Tasks) > 0 && !slices.Contains(opts.Tasks, taskID) {
		return false, nil
	}
	if !opts.SkipCompleted {
		return true, nil
	}
	done, err := o.ledger.IsTaskCompleted(ctx, taskID)
	if err != nil {
		return false, err
	}
	if done {
		log.Info().Str("task_id", taskID).Msg("Task already completed, skipping")
	}
	return !done, nil
}

// Run executes the playbook tasks in order, then the post-processing steps.
//
// A failing task is logged and stays in_progress in the ledger. Without
// ContinueOnError the run stops there and returns the error; with it the
// remaining tasks run and every failure is returned joined. Cancellation
// always stops the run.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (*Report, error) {
	started := time.Now()
	tasks := append(slices.Clone(o.playbook.Tasks), o.playbook.PostProcessing...)

	// unknown kinds are a configuration error, caught before any work
	for _, t := range tasks {
		if len(opts.Tasks) > 0 && !slices.Contains(opts.Tasks, t.ID) {
			continue
		}
		if kind := t.ResolvedKind(); kind != playbook.KindProcess && o.runners[kind] == nil {
			return nil, fmt.Errorf("%w: task %s has kind %q", ErrUnknownTaskKind, t.ID, kind)
		}
	}

	log.Info().Int("tasks", len(tasks)).Strs("filter", opts.Tasks).Msg("Starting orchestrator")

	report := &Report{}
	var failures []error
	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		run, err := o.ShouldRun(ctx, t.ID, opts)
		if err != nil {
			return report, err
		}
		if !run {
			report.Skipped = append(report.Skipped, t.ID)
			continue
		}

		err = o.RunTask(ctx, t)
		switch {
		case errors.Is(err, ErrNoProcessor):
			report.Skipped = append(report.Skipped, t.ID)
		case err != nil:
			report.Failed = append(report.Failed, t.ID)
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			if !opts.ContinueOnError {
				report.Duration = time.Since(started)
				return report, err
			}
			failures = append(failures, err)
		default:
			report.Completed = append(report.Completed, t.ID)
		}
	}

	report.Duration = time.Since(started)
	log.Info().
		Strs("completed", report.Completed).
		Strs("skipped", report.Skipped).
		Strs("failed", report.Failed).
		Dur("duration", report.Duration).
		Msg("All tasks finished")
	return report, errors.Join(failures...)
}

// RunTask starts, runs and completes one task. A task whose action has no
// processor is not started and returns ErrNoProcessor.
func (o *Orchestrator) RunTask(ctx context.Context, t playbook.Task) error {
	kind := t.ResolvedKind()
	logger := log.With().Str("task_id", t.ID).Str("kind", kind).Logger()

	var run func(context.Context, playbook.Task) (map[string]any, error)
	if kind == playbook.KindProcess {
		p := o.processors[t.ProcessAction()]
		if p == nil {
			logger.Warn().Str("action", t.ProcessAction()).Msg("No processor registered, leaving task pending")
			return fmt.Errorf("%w: %s", ErrNoProcessor, t.ProcessAction())
		}
		run = p.Process
	} else {
		r := o.runners[kind]
		if r == nil {
			return fmt.Errorf("%w: task %s has kind %q", ErrUnknownTaskKind, t.ID, kind)
		}
		run = r.Run
	}

	logger.Info().Str("description", t.Description).Msg("Running task")
	if err := o.ledger.StartTask(ctx, t.ID, map[string]any{"kind": kind}); err != nil {
		return err
	}

	meta, err := run(ctx, t)
	if err != nil {
		logger.Error().Err(err).Msg("Task failed")
		return fmt.Errorf("task %s: %w", t.ID, err)
	}

	if err := o.ledger.CompleteTask(ctx, t.ID, meta); err != nil {
		return err
	}
	logger.Info().Interface("metadata", meta).Msg("Task completed")
	return nil
}
