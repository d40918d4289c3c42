package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"eauharvest/internal/models"
	"eauharvest/internal/services/orchestrator"
)

var ErrJobNotFound = errors.New("scheduled job not found")

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Service handles scheduled job management and execution
type Service struct {
	db     *gorm.DB
	ctx    context.Context
	cron   *cron.Cron
	jobs   map[string]cron.EntryID // jobID -> cron entry ID
	jobsMu sync.RWMutex
	runner Runner
	// harvests share the ledger and the output files, one at a time
	runMu sync.Mutex
}

// NewService creates a new scheduler service
func NewService(ctx context.Context, db *gorm.DB, runner Runner) *Service {
	return &Service{
		db:     db,
		ctx:    ctx,
		cron:   cron.New(cron.WithSeconds()),
		jobs:   make(map[string]cron.EntryID),
		runner: runner,
	}
}

// Start loads enabled jobs from the database and starts the cron loop
func (s *Service) Start() error {
	var jobs []models.ScheduledJob
	if err := s.db.WithContext(s.ctx).Where("enabled = ?", true).Find(&jobs).Error; err != nil {
		return fmt.Errorf("failed to load scheduled jobs: %w", err)
	}

	for i := range jobs {
		job := &jobs[i]
		if err := s.scheduleJob(job); err != nil {
			log.Warn().Err(err).Str("job", job.Name).Str("job_id", job.ID).Msg("Failed to schedule job")
			continue
		}
		log.Info().Str("job", job.Name).Str("cron", job.Cron).Str("timezone", job.Timezone).Msg("Scheduled job")
	}

	s.cron.Start()
	log.Info().Int("jobs", len(jobs)).Msg("Scheduler started")
	return nil
}

// Stop waits for running jobs and stops the cron loop
func (s *Service) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	log.Info().Msg("Scheduler stopped")
}

// ListJobs retrieves all scheduled jobs, newest first
func (s *Service) ListJobs() ([]JobListResponse, error) {
	var jobs []models.ScheduledJob
	if err := s.db.WithContext(s.ctx).Order("created_at DESC").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	responses := make([]JobListResponse, len(jobs))
	for i := range jobs {
		responses[i] = toJobListResponse(&jobs[i])
	}
	return responses, nil
}

// UpsertJob creates or updates a scheduled job by name and reschedules it
func (s *Service) UpsertJob(req UpsertJobRequest) (string, error) {
	if req.Name == "" || req.Cron == "" {
		return "", fmt.Errorf("name and cron are required")
	}

	expr, err := normalizeCron(req.Cron)
	if err != nil {
		return "", err
	}

	tz := req.Timezone
	if tz == "" {
		tz = "UTC"
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return "", fmt.Errorf("invalid timezone %q: %w", tz, err)
	}

	var job models.ScheduledJob
	err = s.db.WithContext(s.ctx).Where("name = ?", req.Name).First(&job).Error
	isNew := errors.Is(err, gorm.ErrRecordNotFound)
	if err != nil && !isNew {
		return "", fmt.Errorf("failed to query job: %w", err)
	}

	job.Name = req.Name
	job.Cron = expr
	job.Timezone = tz
	job.Tasks = req.Tasks
	job.Force = req.Force
	job.Enabled = req.Enabled

	next, err := nextRun(&job, time.Now())
	if err != nil {
		return "", err
	}
	job.NextRunAt = &next

	if isNew {
		err = s.db.WithContext(s.ctx).Create(&job).Error
	} else {
		err = s.db.WithContext(s.ctx).Save(&job).Error
	}
	if err != nil {
		return "", fmt.Errorf("failed to save job: %w", err)
	}

	if err := s.scheduleJob(&job); err != nil {
		return "", fmt.Errorf("failed to reschedule job: %w", err)
	}

	log.Info().Str("job", job.Name).Str("cron", job.Cron).Bool("enabled", job.Enabled).Msg("Job saved")
	return job.ID, nil
}

// DeleteJob removes a scheduled job
func (s *Service) DeleteJob(jobID string) error {
	s.unscheduleJob(jobID)

	res := s.db.WithContext(s.ctx).Delete(&models.ScheduledJob{}, "id = ?", jobID)
	if res.Error != nil {
		return fmt.Errorf("failed to delete job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return nil
}

// RunJob executes a job immediately and records the outcome on the job row
func (s *Service) RunJob(ctx context.Context, jobID string) (*orchestrator.Report, error) {
	var job models.ScheduledJob
	if err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return nil, fmt.Errorf("failed to load job: %w", err)
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	logger := log.With().Str("job", job.Name).Str("job_id", job.ID).Logger()
	logger.Info().Strs("tasks", job.Tasks).Bool("force", job.Force).Msg("Executing scheduled job")

	now := time.Now()
	report, runErr := s.runner.Run(ctx, orchestrator.RunOptions{
		Tasks:         job.Tasks,
		SkipCompleted: !job.Force,
	})

	job.LastRunAt = &now
	job.LastError = ""
	if runErr != nil {
		job.LastError = runErr.Error()
	}
	if next, err := nextRun(&job, time.Now()); err == nil {
		job.NextRunAt = &next
	}
	if err := s.db.WithContext(context.WithoutCancel(ctx)).Save(&job).Error; err != nil {
		logger.Warn().Err(err).Msg("Failed to update job run times")
	}

	if runErr != nil {
		logger.Error().Err(runErr).Msg("Scheduled job failed")
		return report, runErr
	}
	logger.Info().
		Int("completed", len(report.Completed)).
		Int("skipped", len(report.Skipped)).
		Dur("duration", report.Duration).
		Msg("Scheduled job completed")
	return report, nil
}

// scheduleJob replaces the cron entry of a job; disabled jobs are left out
func (s *Service) scheduleJob(job *models.ScheduledJob) error {
	s.unscheduleJob(job.ID)
	if !job.Enabled {
		return nil
	}

	jobID := job.ID
	entryID, err := s.cron.AddFunc(withTimezone(job), func() {
		if _, err := s.RunJob(s.ctx, jobID); err != nil && errors.Is(err, ErrJobNotFound) {
			s.unscheduleJob(jobID)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.jobsMu.Lock()
	s.jobs[jobID] = entryID
	s.jobsMu.Unlock()
	return nil
}

func (s *Service) unscheduleJob(jobID string) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	if entryID, ok := s.jobs[jobID]; ok {
		s.cron.Remove(entryID)
		delete(s.jobs, jobID)
	}
}

func withTimezone(job *models.ScheduledJob) string {
	if job.Timezone == "" || job.Timezone == "UTC" {
		return job.Cron
	}
	return "CRON_TZ=" + job.Timezone + " " + job.Cron
}

func nextRun(job *models.ScheduledJob, from time.Time) (time.Time, error) {
	schedule, err := parser.Parse(withTimezone(job))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse cron for next run: %w", err)
	}
	return schedule.Next(from), nil
}

// normalizeCron converts 5-field cron to 6-field format by prepending seconds
// 5-field: "minute hour day month dow" (standard cron)
// 6-field: "second minute hour day month dow" (robfig/cron with WithSeconds)
// Descriptors such as @daily or @every 1h are kept as they are.
func normalizeCron(cronExpr string) (string, error) {
	cronExpr = strings.TrimSpace(cronExpr)
	fields := strings.Fields(cronExpr)

	if strings.HasPrefix(cronExpr, "@") {
		if _, err := parser.Parse(cronExpr); err != nil {
			return "", fmt.Errorf("invalid cron expression: %w", err)
		}
		return strings.Join(fields, " "), nil
	}

	switch len(fields) {
	case 6:
		if _, err := parser.Parse(cronExpr); err != nil {
			return "", fmt.Errorf("invalid cron expression: %w", err)
		}
		return cronExpr, nil
	case 5:
		if _, err := cron.ParseStandard(cronExpr); err != nil {
			return "", fmt.Errorf("invalid cron expression: %w", err)
		}
		return "0 " + cronExpr, nil
	}
	return "", fmt.Errorf("invalid cron expression: expected 5 or 6 fields, got %d", len(fields))
}

func toJobListResponse(job *models.ScheduledJob) JobListResponse {
	resp := JobListResponse{
		ID:        job.ID,
		Name:      job.Name,
		Cron:      job.Cron,
		Timezone:  job.Timezone,
		Tasks:     job.Tasks,
		Force:     job.Force,
		Enabled:   job.Enabled,
		LastError: job.LastError,
		CreatedAt: job.CreatedAt.Format(time.RFC3339),
		UpdatedAt: job.UpdatedAt.Format(time.RFC3339),
	}

	if job.LastRunAt != nil {
		lastRun := job.LastRunAt.Format(time.RFC3339)
		resp.LastRunAt = &lastRun
	}
	if job.NextRunAt != nil {
		next := job.NextRunAt.Format(time.RFC3339)
		resp.NextRun = &next
	}
	return resp
}
