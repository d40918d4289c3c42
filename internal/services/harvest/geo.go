package harvest

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"eauharvest/internal/crawl"
	"eauharvest/internal/download"
	"eauharvest/internal/playbook"
)

// extensions a source URL may point at directly
var geoExtensions = []string{".zip", ".geojson", ".json", ".gz", ".gpkg", ".csv"}

// GeoDownload fetches the archive or layer behind a playbook source and
// unpacks zip archives next to the task output. Format conversion is left to
// the post-processing steps.
func (s *Service) GeoDownload(ctx context.Context, task playbook.Task) (map[string]any, error) {
	if s.opts.Playbook == nil {
		return nil, fmt.Errorf("%w: %s needs a playbook source", ErrMissingParam, task.ID)
	}
	sourceURL, err := s.opts.Playbook.SourceURL(task.Source)
	if err != nil {
		return nil, err
	}
	logger := taskLogger(task)

	fileURL, err := s.resolveDownloadURL(ctx, task, sourceURL)
	if err != nil {
		return nil, err
	}
	if fileURL != sourceURL {
		logger.Info().Str("page_url", sourceURL).Str("download_url", fileURL).Msg("Found download URL")
	}

	dir := filepath.Dir(s.geoOutput(task))
	name := download.DeriveFileName(fileURL, 0)
	res, err := s.downloader(task.ID).Download(ctx, fileURL, filepath.Join(dir, "raw", name))
	if err != nil {
		return nil, err
	}

	meta := map[string]any{
		"url":     fileURL,
		"path":    res.Path,
		"hash":    res.Hash,
		"size":    res.Size,
		"skipped": res.Skipped,
	}
	if strings.EqualFold(filepath.Ext(res.Path), ".zip") {
		target := filepath.Join(dir, strings.TrimSuffix(name, filepath.Ext(name)))
		files, err := extractZip(res.Path, target)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("archive", res.Path).Str("target", target).Int("files", len(files)).Msg("Archive extracted")
		meta["extracted_to"] = target
		meta["files"] = len(files)
	}
	return s.finish(task.ID, meta), nil
}

func (s *Service) geoOutput(task playbook.Task) string {
	if task.Output != "" {
		return task.Output
	}
	return filepath.Join("processed", "geo", task.ID)
}

func isDirectLink(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	ext := strings.ToLower(path.Ext(u.Path))
	for _, e := range geoExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// resolveDownloadURL turns a dataset page into a file URL: the open data API
// for dataset pages first, then the first matching link on the HTML page
func (s *Service) resolveDownloadURL(ctx context.Context, task playbook.Task, pageURL string) (string, error) {
	if isDirectLink(pageURL) {
		return pageURL, nil
	}
	keyword := strings.ToLower(task.Params.Keyword)
	logger := taskLogger(task)

	if id := datasetID(pageURL); id != "" && s.opts.Endpoints.DataGouv != "" {
		found, err := s.datasetResource(ctx, task.ID, id, keyword)
		if err == nil && found != "" {
			return found, nil
		}
		logger.Warn().Str("dataset_id", id).Err(err).Msg("No matching resource via API, trying HTML parsing")
	}

	fetcher := crawl.NewHTTPFetcher(s.opts.UserAgent, s.opts.Timeout, s.opts.Retry, s.opts.Limiter)
	body, err := fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	page, err := crawl.ParsePage(pageURL, body)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", pageURL, err)
	}
	for _, l := range page.Links {
		if !isDirectLink(l.URL) {
			continue
		}
		if keyword == "" || strings.Contains(strings.ToLower(l.URL+" "+l.Text), keyword) {
			return l.URL, nil
		}
	}
	return "", fmt.Errorf("%w on %s", ErrNoDownloadLink, pageURL)
}

// datasetID extracts the id of a /datasets/<id>/ page URL
func datasetID(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] == "datasets" {
			return parts[i+1]
		}
	}
	return ""
}

func (s *Service) datasetResource(ctx context.Context, taskID, id, keyword string) (string, error) {
	body, err := s.client(taskID, s.opts.Endpoints.DataGouv).Get(ctx, "datasets/"+id+"/", nil)
	if err != nil {
		return "", err
	}
	resources, _ := body["resources"].([]any)
	for _, r := range resources {
		res, ok := r.(map[string]any)
		if !ok {
			continue
		}
		format, _ := res["format"].(string)
		title, _ := res["title"].(string)
		link, _ := res["url"].(string)
		if link == "" {
			continue
		}

		formatMatch := false
		for _, ext := range geoExtensions {
			if strings.Contains(strings.ToLower(format), strings.TrimPrefix(ext, ".")) {
				formatMatch = true
				break
			}
		}
		if formatMatch && (keyword == "" || strings.Contains(strings.ToLower(title), keyword)) {
			return link, nil
		}
	}
	return "", nil
}

// extractZip unpacks archive into dir and returns the written files. Entries
// that would land outside dir are rejected.
func extractZip(archive, dir string) ([]string, error) {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", archive, err)
	}
	defer r.Close()

	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, f := range r.File {
		target := filepath.Join(root, filepath.FromSlash(f.Name))
		if rel, err := filepath.Rel(root, target); err != nil || strings.HasPrefix(rel, "..") {
			return nil, fmt.Errorf("archive entry %q escapes %s", f.Name, dir)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return nil, err
			}
			continue
		}
		if err := extractFile(f, target); err != nil {
			return nil, err
		}
		files = append(files, target)
	}
	return files, nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}
