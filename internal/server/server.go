// Package server exposes the harvest ledger and the scheduled jobs over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"eauharvest/internal/models"
	"eauharvest/internal/services/orchestrator"
	"eauharvest/internal/services/scheduler"
	"eauharvest/internal/state"
)

const (
	apiPrefix       = "/api/v1"
	shutdownTimeout = 30 * time.Second
)

// Ledger is the read and reset side of the state store
type Ledger interface {
	ListTasks(ctx context.Context) ([]models.Task, error)
	GetTaskStats(ctx context.Context, taskID string) (*state.TaskStats, error)
	ResetTask(ctx context.Context, taskID string) error
}

// Jobs manages scheduled harvests; nil disables the /jobs routes
type Jobs interface {
	ListJobs() ([]scheduler.JobListResponse, error)
	UpsertJob(req scheduler.UpsertJobRequest) (string, error)
	DeleteJob(jobID string) error
	RunJob(ctx context.Context, jobID string) (*orchestrator.Report, error)
}

type Server struct {
	ledger   Ledger
	jobs     Jobs
	gatherer prometheus.Gatherer
	router   *mux.Router
}

// New builds the router. A nil gatherer serves the default registry.
func New(ledger Ledger, jobs Jobs, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{ledger: ledger, jobs: jobs, gatherer: gatherer}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		doJSONResponse(w, map[string]string{"status": "ok"}, http.StatusOK)
	}).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	router.HandleFunc(apiPrefix+"/tasks", s.listTasks).Methods(http.MethodGet)
	router.HandleFunc(apiPrefix+"/tasks/{id}", s.getTask).Methods(http.MethodGet)
	router.HandleFunc(apiPrefix+"/tasks/{id}", s.resetTask).Methods(http.MethodDelete)

	if s.jobs != nil {
		router.HandleFunc(apiPrefix+"/jobs", s.listJobs).Methods(http.MethodGet)
		router.HandleFunc(apiPrefix+"/jobs", s.upsertJob).Methods(http.MethodPut)
		router.HandleFunc(apiPrefix+"/jobs/{id}", s.deleteJob).Methods(http.MethodDelete)
		router.HandleFunc(apiPrefix+"/jobs/{id}/run", s.runJob).Methods(http.MethodPost)
	}

	router.Use(loggingMiddleware)
	router.Use(panicMiddleware)
	return router
}

// Run serves on addr until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("address", addr).Msg("Starting status server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Msg("Status server stopped")
	return nil
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.ledger.ListTasks(r.Context())
	if err != nil {
		responseErrorAndLog(w, err, "Server.listTasks")
		return
	}
	doJSONResponse(w, tasks, http.StatusOK)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	stats, err := s.ledger.GetTaskStats(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		responseErrorAndLog(w, err, "Server.getTask")
		return
	}
	doJSONResponse(w, stats, http.StatusOK)
}

func (s *Server) resetTask(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["id"]
	if err := s.ledger.ResetTask(r.Context(), taskID); err != nil {
		responseErrorAndLog(w, err, "Server.resetTask")
		return
	}
	doJSONResponse(w, map[string]string{"task_id": taskID, "status": string(models.TaskNotStarted)}, http.StatusOK)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.ListJobs()
	if err != nil {
		responseErrorAndLog(w, err, "Server.listJobs")
		return
	}
	doJSONResponse(w, jobs, http.StatusOK)
}

func (s *Server) upsertJob(w http.ResponseWriter, r *http.Request) {
	var req scheduler.UpsertJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		doBadResponseAndLog(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := s.jobs.UpsertJob(req)
	if err != nil {
		doBadResponseAndLog(w, http.StatusBadRequest, err.Error())
		return
	}
	doJSONResponse(w, map[string]string{"id": id}, http.StatusOK)
}

func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.DeleteJob(mux.Vars(r)["id"]); err != nil {
		responseErrorAndLog(w, err, "Server.deleteJob")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) runJob(w http.ResponseWriter, r *http.Request) {
	report, err := s.jobs.RunJob(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, scheduler.ErrJobNotFound) {
			responseErrorAndLog(w, err, "Server.runJob")
			return
		}
		doJSONResponse(w, map[string]any{"error": err.Error(), "report": report}, http.StatusBadGateway)
		return
	}
	doJSONResponse(w, report, http.StatusOK)
}
