// Package download fetches files into place and records them in the ledger.
package download

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"eauharvest/internal/api"
	"eauharvest/internal/models"
	"eauharvest/internal/ratelimit"
)

// Ledger is the part of the state store downloads use
type Ledger interface {
	IsDownloaded(ctx context.Context, taskID, url string) (bool, error)
	GetDownload(ctx context.Context, taskID, url string) (*models.Download, error)
	RecordDownload(ctx context.Context, taskID, url, localPath string, metadata map[string]any) error
}

type Options struct {
	TaskID    string
	UserAgent string
	Timeout   time.Duration // per attempt; defaults to twice the API timeout
	Retry     api.RetryPolicy
	Limiter   *ratelimit.Limiter
	Metrics   api.Metrics
}

// Result describes a finished (or skipped) download
type Result struct {
	URL     string
	Path    string
	Skipped bool
	Hash    string
	Size    int64
}

type Downloader struct {
	taskID  string
	ledger  Ledger
	metrics api.Metrics
	http    *resty.Client
}

func New(ledger Ledger, opts Options) *Downloader {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * api.DefaultTimeout
	}
	d := &Downloader{
		taskID:  opts.TaskID,
		ledger:  ledger,
		metrics: opts.Metrics,
	}
	d.http = api.NewTransport(opts.UserAgent, opts.Timeout, opts.Retry, opts.Limiter).
		AddRetryHook(func(r *resty.Response, err error) {
			kind := api.ErrorKind(err)
			if err == nil && r != nil {
				kind = api.ErrorKind(&api.StatusError{StatusCode: r.StatusCode()})
			}
			if d.metrics != nil {
				d.metrics.RecordRetry(d.taskID, kind)
			}
			log.Warn().Str("task_id", d.taskID).Str("kind", kind).Err(err).Msg("Retrying download")
		})
	return d
}

// TaskID returns the ledger task downloads are recorded under
func (d *Downloader) TaskID() string {
	return d.taskID
}

// Download fetches fileURL into dest unless the ledger already has it on disk.
// The body is streamed to dest.part and renamed into place once complete, so
// dest never holds a partial file. The ledger row is written last.
func (d *Downloader) Download(ctx context.Context, fileURL, dest string) (*Result, error) {
	done, err := d.ledger.IsDownloaded(ctx, d.taskID, fileURL)
	if err != nil {
		return nil, err
	}
	if done {
		res := &Result{URL: fileURL, Path: dest, Skipped: true}
		if dl, err := d.ledger.GetDownload(ctx, d.taskID, fileURL); err == nil && dl != nil {
			res.Path = dl.LocalPath
			if dl.FileHash != nil {
				res.Hash = *dl.FileHash
			}
			if dl.FileSize != nil {
				res.Size = *dl.FileSize
			}
		}
		log.Info().Str("task_id", d.taskID).Str("url", fileURL).Msg("File already downloaded, skipping")
		return res, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", filepath.Dir(dest), err)
	}

	log.Info().Str("task_id", d.taskID).Str("url", fileURL).Str("output", dest).Msg("Downloading file")

	tmp := dest + ".part"
	resp, err := d.http.R().
		SetContext(ctx).
		SetOutput(tmp).
		Get(fileURL)
	if err == nil && resp.IsError() {
		err = &api.StatusError{URL: fileURL, StatusCode: resp.StatusCode()}
	}
	if err != nil {
		_ = os.Remove(tmp)
		d.recordError(err)
		log.Error().Str("task_id", d.taskID).Str("url", fileURL).Err(err).Msg("Download failed")
		return nil, err
	}

	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("move %s into place: %w", dest, err)
	}

	meta := map[string]any{"content_type": resp.Header().Get("Content-Type")}
	if err := d.ledger.RecordDownload(ctx, d.taskID, fileURL, dest, meta); err != nil {
		return nil, err
	}
	if d.metrics != nil {
		d.metrics.RecordSuccess(d.taskID)
	}

	res := &Result{URL: fileURL, Path: dest}
	if dl, err := d.ledger.GetDownload(ctx, d.taskID, fileURL); err == nil && dl != nil {
		if dl.FileHash != nil {
			res.Hash = *dl.FileHash
		}
		if dl.FileSize != nil {
			res.Size = *dl.FileSize
		}
	}

	log.Info().Str("task_id", d.taskID).Str("url", fileURL).Int64("size", res.Size).Msg("Download complete")
	return res, nil
}

func (d *Downloader) recordError(err error) {
	if d.metrics == nil || errors.Is(err, context.Canceled) {
		return
	}
	d.metrics.RecordError(d.taskID, api.ErrorKind(err))
}

// DeriveFileName picks a local name from the last URL path segment, falling
// back to file_<index>
func DeriveFileName(rawURL string, index int) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" || u.Path == "/" {
		return fmt.Sprintf("file_%d", index)
	}

	name := u.Path[strings.LastIndex(u.Path, "/")+1:]
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		return fmt.Sprintf("file_%d", index)
	}
	return name
}
