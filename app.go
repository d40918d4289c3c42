package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"eauharvest/internal/api"
	"eauharvest/internal/config"
	"eauharvest/internal/database"
	"eauharvest/internal/logger"
	"eauharvest/internal/playbook"
	"eauharvest/internal/ratelimit"
	"eauharvest/internal/server"
	"eauharvest/internal/services/harvest"
	"eauharvest/internal/services/orchestrator"
	"eauharvest/internal/services/scheduler"
	"eauharvest/internal/state"
)

// App struct - main application state
type App struct {
	ctx       context.Context
	cfg       *config.Config
	runID     string
	logCloser io.Closer

	db           *gorm.DB
	store        *state.Store
	playbook     *playbook.Playbook
	registry     *prometheus.Registry
	metrics      *api.Recorder
	orchestrator *orchestrator.Orchestrator
	scheduler    *scheduler.Service
}

// NewApp creates a new App for one process run
func NewApp(cfg *config.Config) *App {
	return &App{
		cfg:   cfg,
		runID: uuid.NewString(),
	}
}

// startup initializes logging, the ledger and the task services
func (a *App) startup(ctx context.Context) error {
	a.ctx = ctx

	closer, err := logger.Init(logger.Options{
		Level:   a.cfg.LogLevel,
		File:    a.cfg.LogFile,
		Console: a.cfg.LogConsole,
		RunID:   a.runID,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	a.logCloser = closer
	log.Info().Str("playbook", a.cfg.Playbook).Msg("Application starting up")

	pb, err := playbook.Load(a.cfg.Playbook)
	if err != nil {
		return err
	}
	a.playbook = pb

	db, err := database.Init(a.cfg.DatabaseOptions())
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	a.db = db
	a.store = state.NewStore(db)

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = api.NewRecorder(a.registry)

	h := harvest.NewService(harvest.Options{
		Ledger:    a.store,
		Limiter:   ratelimit.NewLimiter(pb.DomainLimits(), a.cfg.Rate.DefaultRPS),
		Metrics:   a.metrics,
		Playbook:  pb,
		UserAgent: a.cfg.UserAgent,
		Timeout:   a.cfg.HTTPTimeout,
		Retry: api.RetryPolicy{
			MaxAttempts: a.cfg.Retry.MaxAttempts,
			BaseDelay:   a.cfg.Retry.BaseDelay,
			MaxDelay:    a.cfg.Retry.MaxDelay,
		},
		PageSize: a.cfg.Pagination.PageSize,
		MaxDepth: a.cfg.Pagination.MaxDepth,
	})

	a.orchestrator = orchestrator.New(pb, a.store)
	a.orchestrator.Register(playbook.KindGeoDownload, orchestrator.RunnerFunc(h.GeoDownload))
	a.orchestrator.Register(playbook.KindQualityRivers, orchestrator.RunnerFunc(h.QualityRivers))
	a.orchestrator.Register(playbook.KindHydrometry, orchestrator.RunnerFunc(h.Hydrometry))
	a.orchestrator.Register(playbook.KindGroundwater, orchestrator.RunnerFunc(h.Groundwater))
	a.orchestrator.Register(playbook.KindCrawlPDFs, orchestrator.RunnerFunc(h.CrawlPDFs))
	a.orchestrator.RegisterProcessor(harvest.ActionMergeYearly, orchestrator.ProcessorFunc(h.MergeYearly))

	a.scheduler = scheduler.NewService(ctx, db, a.orchestrator)

	log.Info().Int("tasks", len(pb.Tasks)).Int("post_processing", len(pb.PostProcessing)).Msg("Startup complete")
	return nil
}

// shutdown is called when the command returns
func (a *App) shutdown() {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.db != nil {
		if err := database.Close(a.db); err != nil {
			log.Error().Err(err).Msg("Error closing database")
		}
	}
	log.Info().Msg("Shutdown complete")
	if a.logCloser != nil {
		a.logCloser.Close()
	}
}

// Run executes the playbook once
func (a *App) Run(opts orchestrator.RunOptions) (*orchestrator.Report, error) {
	return a.orchestrator.Run(a.ctx, opts)
}

// Status returns the ledger stats of one task, or of every playbook task
func (a *App) Status(taskID string) ([]*state.TaskStats, error) {
	ids := []string{taskID}
	if taskID == "" {
		ids = ids[:0]
		for _, t := range slices.Concat(a.playbook.Tasks, a.playbook.PostProcessing) {
			ids = append(ids, t.ID)
		}
	}

	stats := make([]*state.TaskStats, 0, len(ids))
	for _, id := range ids {
		s, err := a.store.GetTaskStats(a.ctx, id)
		if err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, nil
}

// Reset clears the ledger rows of a task so the next run starts it over
func (a *App) Reset(taskID string) error {
	if _, ok := a.playbook.Lookup(taskID); !ok {
		log.Warn().Str("task_id", taskID).Msg("Task is not in the playbook")
	}
	return a.store.ResetTask(a.ctx, taskID)
}

// Serve runs the status API until the context is done. With the scheduler
// started, cron jobs fire in the background meanwhile.
func (a *App) Serve(withScheduler bool) error {
	if withScheduler {
		if err := a.scheduler.Start(); err != nil {
			return err
		}
	}

	err := server.New(a.store, a.scheduler, a.registry).Run(a.ctx, a.cfg.StatusAddr)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
