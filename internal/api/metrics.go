package api

import (
	"maps"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Metrics receives the outcome of every logical request
type Metrics interface {
	RecordSuccess(taskID string)
	RecordError(taskID, kind string)
	RecordRetry(taskID, kind string)
}

// Summary is the per-task request tally logged when a task finishes
type Summary struct {
	TaskID       string         `json:"task_id"`
	Success      int            `json:"success_count"`
	Errors       int            `json:"error_count"`
	Retries      int            `json:"retry_count"`
	Total        int            `json:"total_requests"`
	ErrorsByKind map[string]int `json:"errors_by_type,omitempty"`
	Started      time.Time      `json:"start_time"`
	SuccessRate  float64        `json:"success_rate_percent"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// Recorder keeps per-task counters in memory and mirrors them to prometheus
type Recorder struct {
	mu    sync.Mutex
	tasks map[string]*Summary

	requests *prometheus.CounterVec
	retries  *prometheus.CounterVec
}

// NewRecorder registers its collectors on reg. A nil reg keeps the counters
// in memory only.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		tasks: make(map[string]*Summary),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eauharvest",
			Name:      "requests_total",
			Help:      "Logical upstream requests by task and outcome.",
		}, []string{"task", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eauharvest",
			Name:      "request_retries_total",
			Help:      "Retried request attempts by task and error kind.",
		}, []string{"task", "kind"}),
	}
	if reg != nil {
		reg.MustRegister(r.requests, r.retries)
	}
	return r
}

func (r *Recorder) summary(taskID string) *Summary {
	s, ok := r.tasks[taskID]
	if !ok {
		s = &Summary{
			TaskID:       taskID,
			ErrorsByKind: map[string]int{},
			Started:      time.Now().UTC(),
			Extra:        map[string]any{},
		}
		r.tasks[taskID] = s
	}
	return s
}

func (r *Recorder) RecordSuccess(taskID string) {
	r.mu.Lock()
	s := r.summary(taskID)
	s.Success++
	s.Total++
	r.mu.Unlock()

	r.requests.WithLabelValues(taskID, "success").Inc()
}

func (r *Recorder) RecordError(taskID, kind string) {
	r.mu.Lock()
	s := r.summary(taskID)
	s.Errors++
	s.Total++
	s.ErrorsByKind[kind]++
	r.mu.Unlock()

	r.requests.WithLabelValues(taskID, kind).Inc()
}

func (r *Recorder) RecordRetry(taskID, kind string) {
	r.mu.Lock()
	r.summary(taskID).Retries++
	r.mu.Unlock()

	r.retries.WithLabelValues(taskID, kind).Inc()
}

// Add attaches a custom value to the task summary
func (r *Recorder) Add(taskID, key string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary(taskID).Extra[key] = value
}

// Summary returns a copy of the task's counters
func (r *Recorder) Summary(taskID string) Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := *r.summary(taskID)
	s.ErrorsByKind = maps.Clone(s.ErrorsByKind)
	s.Extra = maps.Clone(s.Extra)
	if s.Total > 0 {
		s.SuccessRate = float64(int(float64(s.Success)/float64(s.Total)*10000)) / 100
	}
	return s
}

// LogSummary writes the task's counters as one log line
func (r *Recorder) LogSummary(taskID string) {
	s := r.Summary(taskID)
	log.Info().
		Str("task_id", taskID).
		Int("success_count", s.Success).
		Int("error_count", s.Errors).
		Int("retry_count", s.Retries).
		Int("total_requests", s.Total).
		Float64("success_rate_percent", s.SuccessRate).
		Interface("errors_by_type", s.ErrorsByKind).
		Interface("extra", s.Extra).
		Msg("Task request summary")
}

type nopMetrics struct{}

func (nopMetrics) RecordSuccess(string)       {}
func (nopMetrics) RecordError(string, string) {}
func (nopMetrics) RecordRetry(string, string) {}
