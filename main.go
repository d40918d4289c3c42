package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"eauharvest/internal/config"
	"eauharvest/internal/services/orchestrator"
	"eauharvest/internal/services/scheduler"
)

const exitInterrupted = 130

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "error loading .env: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, err := newRootCmd(config.New())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error initializing commands: %v\n", err)
		os.Exit(1)
	}

	err = root.ExecuteContext(ctx)
	switch {
	case ctx.Err() != nil:
		fmt.Fprintln(os.Stderr, "interrupted")
		stop()
		os.Exit(exitInterrupted)
	case err != nil:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd(v *viper.Viper) (*cobra.Command, error) {
	root := &cobra.Command{
		Use:           "eauharvest",
		Short:         "Resumable harvester for French water open data",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	if err := config.BindFlags(v, root); err != nil {
		return nil, err
	}

	root.AddCommand(
		newRunCmd(v),
		newStatusCmd(v),
		newResetCmd(v),
		newScheduleCmd(v),
		newServeCmd(v),
	)
	return root, nil
}

// withApp loads the configuration, starts the app for the duration of fn
// and shuts it down afterwards
func withApp(cmd *cobra.Command, v *viper.Viper, fn func(a *App) error) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	app := NewApp(cfg)
	defer app.shutdown()
	if err := app.startup(cmd.Context()); err != nil {
		return err
	}
	return fn(app)
}

func newRunCmd(v *viper.Viper) *cobra.Command {
	var (
		tasks           []string
		noSkipCompleted bool
		continueOnError bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the playbook tasks, skipping completed ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, v, func(a *App) error {
				report, err := a.Run(orchestrator.RunOptions{
					Tasks:           append(tasks, args...),
					SkipCompleted:   !noSkipCompleted,
					ContinueOnError: continueOnError,
				})
				if report != nil {
					_ = printJSON(cmd, report)
				}
				return err
			})
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVar(&tasks, "tasks", nil, "task ids to run (default: every task)")
	flags.BoolVar(&noSkipCompleted, "no-skip-completed", false, "re-run tasks already completed")
	flags.BoolVar(&continueOnError, "continue-on-error", false, "keep running after a task fails")
	return cmd
}

func newStatusCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "status [task]",
		Short: "Show the ledger state of one task or of every playbook task",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, v, func(a *App) error {
				taskID := ""
				if len(args) == 1 {
					taskID = args[0]
				}
				stats, err := a.Status(taskID)
				if err != nil {
					return err
				}
				return printJSON(cmd, stats)
			})
		},
	}
}

func newResetCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <task>",
		Short: "Forget every recorded operation and download of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, v, func(a *App) error {
				if err := a.Reset(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "task %s reset\n", args[0])
				return nil
			})
		},
	}
}

func newServeCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the status API and prometheus metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, v, func(a *App) error {
				return a.Serve(false)
			})
		},
	}
}

func newScheduleCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run scheduled harvests until interrupted, serving the status API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, v, func(a *App) error {
				return a.Serve(true)
			})
		},
	}

	var req scheduler.UpsertJobRequest
	var disabled bool
	add := &cobra.Command{
		Use:   "add",
		Short: "Create or update a scheduled job by name",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, v, func(a *App) error {
				req.Enabled = !disabled
				id, err := a.scheduler.UpsertJob(req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "job %s saved (%s)\n", req.Name, id)
				return nil
			})
		},
	}
	flags := add.Flags()
	flags.StringVar(&req.Name, "name", "", "job name")
	flags.StringVar(&req.Cron, "cron", "", "cron expression, 5 or 6 fields")
	flags.StringVar(&req.Timezone, "timezone", "UTC", "IANA timezone of the cron expression")
	flags.StringSliceVar(&req.Tasks, "tasks", nil, "task ids to run (default: every task)")
	flags.BoolVar(&req.Force, "force", false, "re-run completed tasks")
	flags.BoolVar(&disabled, "disabled", false, "save the job without scheduling it")
	_ = add.MarkFlagRequired("name")
	_ = add.MarkFlagRequired("cron")

	list := &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, v, func(a *App) error {
				jobs, err := a.scheduler.ListJobs()
				if err != nil {
					return err
				}
				return printJSON(cmd, jobs)
			})
		},
	}

	remove := &cobra.Command{
		Use:   "remove <job-id>",
		Short: "Delete a scheduled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, v, func(a *App) error {
				err := a.scheduler.DeleteJob(args[0])
				if errors.Is(err, scheduler.ErrJobNotFound) {
					return fmt.Errorf("no job with id %s", args[0])
				}
				return err
			})
		},
	}

	cmd.AddCommand(add, list, remove)
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}
