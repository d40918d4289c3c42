// Package harvest runs the playbook tasks that fetch data: geographic layers,
// Hub'Eau API series and crawled PDF bulletins.
package harvest

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"eauharvest/internal/api"
	"eauharvest/internal/daterange"
	"eauharvest/internal/download"
	"eauharvest/internal/export"
	"eauharvest/internal/logger"
	"eauharvest/internal/playbook"
)

// Service holds what every task runner shares
type Service struct {
	opts Options
}

// NewService creates a new harvest service
func NewService(opts Options) *Service {
	if opts.Exporter == nil {
		opts.Exporter = export.JSONLExporter{}
	}
	if opts.Endpoints == (Endpoints{}) {
		opts.Endpoints = DefaultEndpoints()
	}
	return &Service{opts: opts}
}

// metrics avoids handing a typed nil to the interface
func (s *Service) metrics() api.Metrics {
	if s.opts.Metrics == nil {
		return nil
	}
	return s.opts.Metrics
}

func (s *Service) client(taskID, baseURL string) *api.Client {
	return api.NewClient(api.ClientOptions{
		BaseURL:   baseURL,
		TaskID:    taskID,
		UserAgent: s.opts.UserAgent,
		Timeout:   s.opts.Timeout,
		Retry:     s.opts.Retry,
		Limiter:   s.opts.Limiter,
		Metrics:   s.metrics(),
	})
}

func (s *Service) paginator(taskID, baseURL string) *api.Paginator {
	p := api.NewPaginator(s.client(taskID, baseURL), s.opts.Ledger, taskID)
	if s.opts.PageSize > 0 {
		p.PageSize = s.opts.PageSize
	}
	if s.opts.MaxDepth > 0 {
		p.MaxDepth = s.opts.MaxDepth
	}
	return p
}

func (s *Service) downloader(taskID string) *download.Downloader {
	return download.New(s.opts.Ledger, download.Options{
		TaskID:    taskID,
		UserAgent: s.opts.UserAgent,
		Retry:     s.opts.Retry,
		Limiter:   s.opts.Limiter,
		Metrics:   s.metrics(),
	})
}

// finish attaches the record count to the request summary and logs it
func (s *Service) finish(taskID string, meta map[string]any) map[string]any {
	if s.opts.Metrics != nil {
		for k, v := range meta {
			s.opts.Metrics.Add(taskID, k, v)
		}
		s.opts.Metrics.LogSummary(taskID)
	}
	return meta
}

// write replaces path with records, or appends when part of the data was
// exported by an earlier run that the ledger let this one skip
func (s *Service) write(records []map[string]any, path string, resumed bool) (int, error) {
	if resumed {
		return s.opts.Exporter.Append(records, path)
	}
	return s.opts.Exporter.Export(records, path)
}

// outputPath returns the task output, or exports/<task><ext> when unset
func (s *Service) outputPath(task playbook.Task) string {
	if task.Output != "" {
		return task.Output
	}
	return filepath.Join("exports", task.ID+s.opts.Exporter.Ext())
}

// plan splits every period of the task into query ranges. It runs before any
// request so bad parameters fail fast.
func plan(task playbook.Task) ([]daterange.Range, daterange.Granularity, error) {
	mode, err := daterange.ModeFromParams(task.Params.IterationParams)
	if err != nil {
		return nil, "", fmt.Errorf("task %s: %w", task.ID, err)
	}
	if len(task.Params.Periods) == 0 {
		return nil, "", fmt.Errorf("%w: %s needs periods", ErrMissingParam, task.ID)
	}

	var ranges []daterange.Range
	for _, period := range task.Params.Periods {
		start, end, err := daterange.ParsePeriod(period)
		if err != nil {
			return nil, "", fmt.Errorf("task %s: %w", task.ID, err)
		}
		rs, err := daterange.Partition(start, end, mode)
		if err != nil {
			return nil, "", fmt.Errorf("task %s: %w", task.ID, err)
		}
		ranges = append(ranges, rs...)
	}
	return ranges, mode, nil
}

func taskLogger(task playbook.Task) zerolog.Logger {
	return logger.ForTask(task.ID).With().Str("kind", task.ResolvedKind()).Logger()
}

// withSuffix turns dir/name.ext into dir/name_<parts...>.ext
func withSuffix(path, ext string, parts ...string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if ext == "" {
		ext = filepath.Ext(path)
	}
	return filepath.Join(filepath.Dir(path), stem+"_"+strings.Join(parts, "_")+ext)
}
