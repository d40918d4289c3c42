// Package crawl walks bulletin websites and downloads the PDFs they link to.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"eauharvest/internal/api"
	"eauharvest/internal/download"
	"eauharvest/internal/ratelimit"
	"eauharvest/internal/state"
)

const (
	DefaultMaxDepth    = 3
	DefaultConcurrency = 4
)

var unsafeName = regexp.MustCompile(`[^\w\-.]`)

// PageFetcher returns the body of an HTML page
type PageFetcher interface {
	Fetch(ctx context.Context, pageURL string) ([]byte, error)
}

// Downloader stores one file and records it in the ledger
type Downloader interface {
	Download(ctx context.Context, fileURL, dest string) (*download.Result, error)
}

// Ledger records crawled pages
type Ledger interface {
	RecordOperation(ctx context.Context, taskID, opType, opKey string, metadata map[string]any) error
}

// PDFEntry describes one downloaded bulletin
type PDFEntry struct {
	Title        string    `json:"title"`
	Source       string    `json:"source"`
	URL          string    `json:"url"`
	SourcePage   string    `json:"source_page"`
	LocalPath    string    `json:"local_path"`
	Hash         string    `json:"hash"`
	Size         int64     `json:"size"`
	DownloadedAt time.Time `json:"downloaded_at"`
	Skipped      bool      `json:"-"`
}

// Spider crawls breadth-first from a set of start pages.
// Pages are fetched one at a time; PDF downloads fan out up to Concurrency.
type Spider struct {
	Source       string
	TaskID       string
	OutputDir    string
	Fetcher      PageFetcher
	Downloader   Downloader
	Ledger       Ledger
	AllowedHosts []string
	MaxDepth     int
	Concurrency  int

	// Follow narrows which same-host pages are crawled. Nil follows every page.
	Follow func(link string) bool
}

type queued struct {
	url   string
	depth int
}

type found struct {
	link       Link
	sourcePage string
}

// Crawl visits the start pages and everything reachable within MaxDepth, then
// downloads the PDFs it found. Pages or files that fail are logged and returned
// joined; the entries that did succeed are returned alongside.
func (s *Spider) Crawl(ctx context.Context, startURLs ...string) ([]PDFEntry, error) {
	maxDepth := s.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	allowed := s.allowedHosts(startURLs)
	visited := newVisitedSet()
	logger := log.With().Str("task_id", s.TaskID).Str("source", s.Source).Logger()

	var (
		queue    []queued
		pdfs     []found
		pdfSeen  = make(map[string]bool)
		failures []error
	)
	for _, u := range startURLs {
		if visited.markIfNew(u) {
			queue = append(queue, queued{url: u})
		}
	}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item := queue[0]
		queue = queue[1:]

		body, err := s.Fetcher.Fetch(ctx, item.url)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warn().Str("url", item.url).Err(err).Msg("Failed to fetch page")
			failures = append(failures, fmt.Errorf("fetch %s: %w", item.url, err))
			continue
		}
		page, err := ParsePage(item.url, body)
		if err != nil {
			logger.Warn().Str("url", item.url).Err(err).Msg("Failed to parse page")
			failures = append(failures, fmt.Errorf("parse %s: %w", item.url, err))
			continue
		}

		pagePDFs := page.PDFs()
		for _, l := range pagePDFs {
			if !pdfSeen[l.URL] {
				pdfSeen[l.URL] = true
				pdfs = append(pdfs, found{link: l, sourcePage: item.url})
			}
		}

		followed := 0
		if item.depth < maxDepth {
			for _, l := range page.Links {
				if IsPDF(l.URL) || !allowed[hostOf(l.URL)] {
					continue
				}
				if s.Follow != nil && !s.Follow(l.URL) {
					continue
				}
				if visited.markIfNew(l.URL) {
					queue = append(queue, queued{url: l.URL, depth: item.depth + 1})
					followed++
				}
			}
		}

		logger.Info().
			Str("url", item.url).
			Int("depth", item.depth).
			Int("pdf_links", len(pagePDFs)).
			Int("followed", followed).
			Msg("Crawled page")

		if s.Ledger != nil {
			meta := map[string]any{"title": page.Title, "pdf_links": len(pagePDFs), "depth": item.depth}
			if err := s.Ledger.RecordOperation(ctx, s.TaskID, state.OpPageCrawl, item.url, meta); err != nil {
				return nil, err
			}
		}
	}

	logger.Info().Int("pages", visited.len()).Int("pdfs", len(pdfs)).Msg("Crawl finished, downloading PDFs")

	entries, dlErrs := s.downloadAll(ctx, pdfs)
	if err := ctx.Err(); err != nil {
		return entries, err
	}
	failures = append(failures, dlErrs...)
	return entries, errors.Join(failures...)
}

func (s *Spider) downloadAll(ctx context.Context, pdfs []found) ([]PDFEntry, []error) {
	limit := s.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	var (
		mu       sync.Mutex
		entries  []PDFEntry
		failures []error
	)

	names := s.fileNames(pdfs)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, f := range pdfs {
		g.Go(func() error {
			name := names[i]
			res, err := s.Downloader.Download(gctx, f.link.URL, filepath.Join(s.OutputDir, name))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// one bad file does not stop the others
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failures = append(failures, fmt.Errorf("download %s: %w", f.link.URL, err))
				return nil
			}
			title := f.link.Text
			if title == "" {
				title = name
			}
			entries = append(entries, PDFEntry{
				Title:        title,
				Source:       s.Source,
				URL:          f.link.URL,
				SourcePage:   f.sourcePage,
				LocalPath:    res.Path,
				Hash:         res.Hash,
				Size:         res.Size,
				DownloadedAt: time.Now().UTC(),
				Skipped:      res.Skipped,
			})
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(entries, func(i, j int) bool { return entries[i].URL < entries[j].URL })
	return entries, failures
}

// fileNames gives every PDF its own local file. A name already taken by an
// earlier link gets a suffix derived from the URL, so it is stable across runs.
func (s *Spider) fileNames(pdfs []found) []string {
	names := make([]string, len(pdfs))
	taken := make(map[string]bool, len(pdfs))
	for i, f := range pdfs {
		name := FileName(f.link.URL, s.Source, i)
		if taken[strings.ToLower(name)] {
			ext := filepath.Ext(name)
			suffix := uuid.NewSHA1(uuid.NameSpaceURL, []byte(f.link.URL)).String()[:8]
			name = strings.TrimSuffix(name, ext) + "_" + suffix + ext
		}
		taken[strings.ToLower(name)] = true
		names[i] = name
	}
	return names
}

func (s *Spider) allowedHosts(startURLs []string) map[string]bool {
	allowed := make(map[string]bool)
	for _, h := range s.AllowedHosts {
		allowed[strings.ToLower(h)] = true
	}
	if len(allowed) == 0 {
		for _, u := range startURLs {
			allowed[hostOf(u)] = true
		}
	}
	return allowed
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// FileName builds a safe local name for a PDF link. Names that do not end in
// .pdf fall back to <source>_<index>.pdf.
func FileName(rawURL, source string, index int) string {
	name := unsafeName.ReplaceAllString(download.DeriveFileName(rawURL, index), "_")
	if strings.EqualFold(filepath.Ext(name), ".pdf") {
		return name
	}
	if source == "" {
		source = "doc"
	}
	return fmt.Sprintf("%s_%d.pdf", source, index)
}

// HTTPFetcher fetches pages over the shared rate limited transport
type HTTPFetcher struct {
	http *resty.Client
}

func NewHTTPFetcher(userAgent string, timeout time.Duration, retry api.RetryPolicy, limiter *ratelimit.Limiter) *HTTPFetcher {
	return &HTTPFetcher{http: api.NewTransport(userAgent, timeout, retry, limiter)}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, pageURL string) ([]byte, error) {
	resp, err := f.http.R().SetContext(ctx).Get(pageURL)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, &api.StatusError{URL: pageURL, StatusCode: resp.StatusCode()}
	}
	return resp.Body(), nil
}
