package harvest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"eauharvest/internal/crawl"
	"eauharvest/internal/playbook"
)

// CrawlPDFs crawls the task's start pages, downloads the PDF bulletins into
// the task output directory and writes an index of them next to the files.
// Files that failed are reported as an error after the index is written, so
// the task stays incomplete and a later run fetches only what is missing.
func (s *Service) CrawlPDFs(ctx context.Context, task playbook.Task) (map[string]any, error) {
	starts := task.Params.StartURLs
	if len(starts) == 0 && task.Source != "" && s.opts.Playbook != nil {
		u, err := s.opts.Playbook.SourceURL(task.Source)
		if err != nil {
			return nil, err
		}
		starts = []string{u}
	}
	if len(starts) == 0 {
		return nil, fmt.Errorf("%w: %s needs start_urls or a source", ErrMissingParam, task.ID)
	}

	source := task.Source
	if source == "" {
		source = task.ID
	}
	out := task.Output
	if out == "" {
		out = filepath.Join("raw", "pdfs", task.ID)
	}

	spider := &crawl.Spider{
		Source:       source,
		TaskID:       task.ID,
		OutputDir:    out,
		Fetcher:      crawl.NewHTTPFetcher(s.opts.UserAgent, s.opts.Timeout, s.opts.Retry, s.opts.Limiter),
		Downloader:   s.downloader(task.ID),
		Ledger:       s.opts.Ledger,
		AllowedHosts: task.Params.AllowedHosts,
		MaxDepth:     task.Params.MaxDepth,
		Concurrency:  task.Params.Concurrency,
	}
	if patterns := task.Params.Follow; len(patterns) > 0 {
		spider.Follow = func(link string) bool {
			for _, p := range patterns {
				if strings.Contains(link, p) {
					return true
				}
			}
			return false
		}
	}

	entries, crawlErr := spider.Crawl(ctx, starts...)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	skipped := 0
	records := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		if e.Skipped {
			skipped++
		}
		records = append(records, map[string]any{
			"title":         e.Title,
			"source":        e.Source,
			"url":           e.URL,
			"source_page":   e.SourcePage,
			"local_path":    e.LocalPath,
			"hash":          e.Hash,
			"size":          e.Size,
			"downloaded_at": e.DownloadedAt,
		})
	}
	index := filepath.Join(out, "index"+s.opts.Exporter.Ext())
	if _, err := s.opts.Exporter.Export(records, index); err != nil {
		return nil, err
	}
	if crawlErr != nil {
		logger := taskLogger(task)
		logger.Error().Err(crawlErr).Int("pdfs", len(entries)).Msg("Crawl finished with failures")
		return nil, crawlErr
	}

	return s.finish(task.ID, map[string]any{
		"pdfs":       len(entries),
		"downloaded": len(entries) - skipped,
		"skipped":    skipped,
		"index":      index,
	}), nil
}
