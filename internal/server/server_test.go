package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eauharvest/internal/api"
	"eauharvest/internal/database"
	"eauharvest/internal/models"
	"eauharvest/internal/services/orchestrator"
	"eauharvest/internal/services/scheduler"
	"eauharvest/internal/state"
)

type stubRunner struct{}

func (stubRunner) Run(_ context.Context, opts orchestrator.RunOptions) (*orchestrator.Report, error) {
	return &orchestrator.Report{Completed: opts.Tasks}, nil
}

type fixture struct {
	store   *state.Store
	jobs    *scheduler.Service
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Init(database.Options{URL: "sqlite://" + filepath.Join(t.TempDir(), "state.db")})
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })

	reg := prometheus.NewRegistry()
	api.NewRecorder(reg).RecordSuccess("t4")

	store := state.NewStore(db)
	jobs := scheduler.NewService(context.Background(), db, stubRunner{})
	return &fixture{
		store:   store,
		jobs:    jobs,
		handler: New(store, jobs, reg).Handler(),
	}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestTaskRoutes(t *testing.T) {
	ctx := context.Background()

	t.Run("Should report health", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(t, http.MethodGet, "/health", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	})

	t.Run("Should list tasks and their stats", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.store.StartTask(ctx, "t4", nil))
		require.NoError(t, f.store.RecordOperation(ctx, "t4", state.OpAPIPage, "page-1", nil))
		require.NoError(t, f.store.CompleteTask(ctx, "t4", map[string]any{"records": 12}))

		rec := f.do(t, http.MethodGet, "/api/v1/tasks", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var tasks []models.Task
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tasks))
		require.Len(t, tasks, 1)
		assert.Equal(t, "t4", tasks[0].TaskID)

		rec = f.do(t, http.MethodGet, "/api/v1/tasks/t4", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var stats state.TaskStats
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
		assert.Equal(t, models.TaskCompleted, stats.Status)
		assert.EqualValues(t, 1, stats.Operations[state.OpAPIPage])
		assert.EqualValues(t, 12, stats.Metadata["records"])
	})

	t.Run("Should report unknown tasks as not started", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(t, http.MethodGet, "/api/v1/tasks/t99", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), string(models.TaskNotStarted))
	})

	t.Run("Should reset a task", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.store.StartTask(ctx, "t5", nil))
		require.NoError(t, f.store.CompleteTask(ctx, "t5", nil))

		rec := f.do(t, http.MethodDelete, "/api/v1/tasks/t5", "")
		require.Equal(t, http.StatusOK, rec.Code)

		done, err := f.store.IsTaskCompleted(ctx, "t5")
		require.NoError(t, err)
		assert.False(t, done)
	})

	t.Run("Should serve prometheus metrics", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(t, http.MethodGet, "/metrics", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `eauharvest_requests_total{outcome="success",task="t4"} 1`)
	})

	t.Run("Should reject unsupported methods", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(t, http.MethodPost, "/api/v1/tasks", "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

		rec = f.do(t, http.MethodPut, "/api/v1/tasks/t4", "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

		rec = f.do(t, http.MethodGet, "/api/v1/jobs/some-id/run", "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestJobRoutes(t *testing.T) {
	t.Run("Should create, list, run and delete a job", func(t *testing.T) {
		f := newFixture(t)

		rec := f.do(t, http.MethodPut, "/api/v1/jobs", `{"name":"nightly","cron":"0 2 * * *","tasks":["t4"],"enabled":true}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var created map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
		id := created["id"]
		require.NotEmpty(t, id)

		rec = f.do(t, http.MethodGet, "/api/v1/jobs", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var jobs []scheduler.JobListResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
		require.Len(t, jobs, 1)
		assert.Equal(t, "0 0 2 * * *", jobs[0].Cron)

		rec = f.do(t, http.MethodPost, "/api/v1/jobs/"+id+"/run", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var report orchestrator.Report
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
		assert.Equal(t, []string{"t4"}, report.Completed)

		rec = f.do(t, http.MethodDelete, "/api/v1/jobs/"+id, "")
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = f.do(t, http.MethodDelete, "/api/v1/jobs/"+id, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("Should reject invalid jobs", func(t *testing.T) {
		f := newFixture(t)

		rec := f.do(t, http.MethodPut, "/api/v1/jobs", `{"name":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = f.do(t, http.MethodPut, "/api/v1/jobs", `{"name":"bad","cron":"whenever"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid cron expression")
	})

	t.Run("Should not expose jobs without a scheduler", func(t *testing.T) {
		f := newFixture(t)
		handler := New(f.store, nil, nil).Handler()

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
