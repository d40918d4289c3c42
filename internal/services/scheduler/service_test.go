package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eauharvest/internal/database"
	"eauharvest/internal/models"
	"eauharvest/internal/services/orchestrator"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls []orchestrator.RunOptions
	err   error
}

func (f *fakeRunner) Run(_ context.Context, opts orchestrator.RunOptions) (*orchestrator.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, opts)
	if f.err != nil {
		return &orchestrator.Report{Failed: opts.Tasks}, f.err
	}
	return &orchestrator.Report{Completed: opts.Tasks}, nil
}

func newTestService(t *testing.T, runner Runner) *Service {
	t.Helper()
	db, err := database.Init(database.Options{URL: "sqlite://" + filepath.Join(t.TempDir(), "state.db")})
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })
	return NewService(context.Background(), db, runner)
}

func TestNormalizeCron(t *testing.T) {
	t.Run("Should convert 5-field to 6-field cron", func(t *testing.T) {
		tests := []struct {
			name     string
			input    string
			expected string
		}{
			{name: "Daily at 2 AM", input: "0 2 * * *", expected: "0 0 2 * * *"},
			{name: "Every 15 minutes", input: "*/15 * * * *", expected: "0 */15 * * * *"},
			{name: "Every Monday at 9 AM", input: "0 9 * * 1", expected: "0 0 9 * * 1"},
			{name: "First day of month at midnight", input: "0 0 1 * *", expected: "0 0 0 1 * *"},
			{name: "Quarterly", input: "0 2 1 1,4,7,10 *", expected: "0 0 2 1 1,4,7,10 *"},
			{name: "Weekdays in office hours", input: "0 9-17 * * 1-5", expected: "0 0 9-17 * * 1-5"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				result, err := normalizeCron(tt.input)
				require.NoError(t, err)
				assert.Equal(t, tt.expected, result)
			})
		}
	})

	t.Run("Should keep 6-field cron unchanged", func(t *testing.T) {
		for _, input := range []string{"0 0 2 * * *", "0 */15 * * * *", "30 0 2 * * 1"} {
			result, err := normalizeCron(input)
			require.NoError(t, err)
			assert.Equal(t, input, result)
		}
	})

	t.Run("Should accept descriptors", func(t *testing.T) {
		for _, input := range []string{"@daily", "@hourly", "@every 1h", " @every  90m "} {
			result, err := normalizeCron(input)
			require.NoError(t, err, input)
			assert.Equal(t, strings.Join(strings.Fields(input), " "), result)
		}
	})

	t.Run("Should fail with invalid expressions", func(t *testing.T) {
		for _, input := range []string{"0 2 * *", "0 0 2 * * * 2025", "", "*", "61 2 * * *", "0 0 25 * * *", "@sometimes", "@every soon"} {
			_, err := normalizeCron(input)
			assert.Error(t, err, input)
			assert.Contains(t, err.Error(), "invalid cron expression")
		}
	})

	t.Run("Should trim surrounding whitespace", func(t *testing.T) {
		result, err := normalizeCron("  0   2   *   *   *  ")
		require.NoError(t, err)
		assert.Equal(t, "0 0   2   *   *   *", result)
	})
}

func TestUpsertJob(t *testing.T) {
	t.Run("Should create a job with its next run", func(t *testing.T) {
		s := newTestService(t, &fakeRunner{})

		id, err := s.UpsertJob(UpsertJobRequest{
			Name:    "nightly-hubeau",
			Cron:    "0 2 * * *",
			Tasks:   []string{"t4", "t5"},
			Enabled: true,
		})
		require.NoError(t, err)
		assert.NotEmpty(t, id)

		jobs, err := s.ListJobs()
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, "0 0 2 * * *", jobs[0].Cron)
		assert.Equal(t, "UTC", jobs[0].Timezone)
		assert.Equal(t, []string{"t4", "t5"}, jobs[0].Tasks)
		assert.NotNil(t, jobs[0].NextRun)
		assert.Nil(t, jobs[0].LastRunAt)
		assert.Contains(t, s.jobs, id)
	})

	t.Run("Should schedule a descriptor in a timezone", func(t *testing.T) {
		s := newTestService(t, &fakeRunner{})

		id, err := s.UpsertJob(UpsertJobRequest{Name: "hourly", Cron: "@every 1h", Timezone: "Europe/Paris", Enabled: true})
		require.NoError(t, err)

		jobs, err := s.ListJobs()
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, "@every 1h", jobs[0].Cron)
		assert.NotNil(t, jobs[0].NextRun)
		assert.Contains(t, s.jobs, id)
	})

	t.Run("Should update a job matched by name", func(t *testing.T) {
		s := newTestService(t, &fakeRunner{})

		first, err := s.UpsertJob(UpsertJobRequest{Name: "weekly", Cron: "0 3 * * 1", Enabled: true})
		require.NoError(t, err)
		second, err := s.UpsertJob(UpsertJobRequest{Name: "weekly", Cron: "0 4 * * 1", Timezone: "Europe/Paris", Force: true})
		require.NoError(t, err)
		assert.Equal(t, first, second)

		jobs, err := s.ListJobs()
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, "0 0 4 * * 1", jobs[0].Cron)
		assert.Equal(t, "Europe/Paris", jobs[0].Timezone)
		assert.True(t, jobs[0].Force)
		assert.False(t, jobs[0].Enabled)
		assert.NotContains(t, s.jobs, first)
	})

	t.Run("Should reject missing fields and bad input", func(t *testing.T) {
		s := newTestService(t, &fakeRunner{})

		_, err := s.UpsertJob(UpsertJobRequest{Cron: "0 2 * * *"})
		assert.Error(t, err)
		_, err = s.UpsertJob(UpsertJobRequest{Name: "x", Cron: "every day"})
		assert.Error(t, err)
		_, err = s.UpsertJob(UpsertJobRequest{Name: "x", Cron: "0 2 * * *", Timezone: "Mars/Olympus"})
		assert.Error(t, err)

		jobs, err := s.ListJobs()
		require.NoError(t, err)
		assert.Empty(t, jobs)
	})
}

func TestDeleteJob(t *testing.T) {
	s := newTestService(t, &fakeRunner{})

	t.Run("Should remove the job and its cron entry", func(t *testing.T) {
		id, err := s.UpsertJob(UpsertJobRequest{Name: "daily", Cron: "0 2 * * *", Enabled: true})
		require.NoError(t, err)

		require.NoError(t, s.DeleteJob(id))
		assert.NotContains(t, s.jobs, id)
		assert.Empty(t, s.cron.Entries())

		jobs, err := s.ListJobs()
		require.NoError(t, err)
		assert.Empty(t, jobs)
	})

	t.Run("Should report unknown jobs", func(t *testing.T) {
		assert.ErrorIs(t, s.DeleteJob("missing"), ErrJobNotFound)
	})
}

func TestRunJob(t *testing.T) {
	ctx := context.Background()

	t.Run("Should run the job tasks skipping completed ones", func(t *testing.T) {
		runner := &fakeRunner{}
		s := newTestService(t, runner)

		id, err := s.UpsertJob(UpsertJobRequest{Name: "hubeau", Cron: "0 2 * * *", Tasks: []string{"t4"}})
		require.NoError(t, err)

		report, err := s.RunJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, []string{"t4"}, report.Completed)
		require.Len(t, runner.calls, 1)
		assert.Equal(t, orchestrator.RunOptions{Tasks: []string{"t4"}, SkipCompleted: true}, runner.calls[0])

		var job models.ScheduledJob
		require.NoError(t, s.db.First(&job, "id = ?", id).Error)
		assert.NotNil(t, job.LastRunAt)
		assert.Empty(t, job.LastError)
	})

	t.Run("Should force re-runs and record failures", func(t *testing.T) {
		runner := &fakeRunner{err: errors.New("hubeau unavailable")}
		s := newTestService(t, runner)

		id, err := s.UpsertJob(UpsertJobRequest{Name: "forced", Cron: "0 2 * * *", Force: true})
		require.NoError(t, err)

		_, err = s.RunJob(ctx, id)
		require.Error(t, err)
		assert.False(t, runner.calls[0].SkipCompleted)

		jobs, err := s.ListJobs()
		require.NoError(t, err)
		assert.Equal(t, "hubeau unavailable", jobs[0].LastError)
		assert.NotNil(t, jobs[0].LastRunAt)
	})

	t.Run("Should fail on unknown jobs", func(t *testing.T) {
		s := newTestService(t, &fakeRunner{})
		_, err := s.RunJob(ctx, "missing")
		assert.ErrorIs(t, err, ErrJobNotFound)
	})
}

func TestStart(t *testing.T) {
	t.Run("Should schedule only enabled jobs", func(t *testing.T) {
		s := newTestService(t, &fakeRunner{})

		require.NoError(t, s.db.Create(&models.ScheduledJob{Name: "on", Cron: "0 0 2 * * *", Timezone: "UTC", Enabled: true}).Error)
		require.NoError(t, s.db.Create(&models.ScheduledJob{Name: "off", Cron: "0 0 3 * * *", Timezone: "UTC"}).Error)

		require.NoError(t, s.Start())
		defer s.Stop()

		assert.Len(t, s.cron.Entries(), 1)
	})

	t.Run("Should fire jobs on schedule", func(t *testing.T) {
		runner := &fakeRunner{}
		s := newTestService(t, runner)

		_, err := s.UpsertJob(UpsertJobRequest{Name: "every-second", Cron: "* * * * * *", Enabled: true})
		require.NoError(t, err)
		require.NoError(t, s.Start())
		defer s.Stop()

		assert.Eventually(t, func() bool {
			runner.mu.Lock()
			defer runner.mu.Unlock()
			return len(runner.calls) > 0
		}, 3*time.Second, 50*time.Millisecond)
	})
}

func TestWithTimezone(t *testing.T) {
	t.Run("Should prefix non-UTC zones", func(t *testing.T) {
		assert.Equal(t, "0 0 2 * * *", withTimezone(&models.ScheduledJob{Cron: "0 0 2 * * *", Timezone: "UTC"}))
		assert.Equal(t, "CRON_TZ=Europe/Paris 0 0 2 * * *", withTimezone(&models.ScheduledJob{Cron: "0 0 2 * * *", Timezone: "Europe/Paris"}))
	})

	t.Run("Should compute the next run in the job zone", func(t *testing.T) {
		paris, err := time.LoadLocation("Europe/Paris")
		require.NoError(t, err)

		from := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
		next, err := nextRun(&models.ScheduledJob{Cron: "0 0 2 * * *", Timezone: "Europe/Paris"}, from)
		require.NoError(t, err)
		assert.True(t, time.Date(2024, 6, 2, 2, 0, 0, 0, paris).Equal(next), next.String())
	})
}
