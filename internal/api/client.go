package api

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"eauharvest/internal/ratelimit"
)

const (
	DefaultUserAgent   = "LB-RAG-Agent/1.0"
	DefaultTimeout     = 45 * time.Second
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 1 * time.Second
	DefaultMaxDelay    = 16 * time.Second
)

// RetryPolicy bounds the attempts of one logical request
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// ClientOptions configures a Client. Zero values fall back to the defaults.
type ClientOptions struct {
	BaseURL   string
	TaskID    string
	UserAgent string
	Timeout   time.Duration
	Retry     RetryPolicy
	Limiter   *ratelimit.Limiter
	Metrics   Metrics
}

// Client is a JSON API client with per-attempt rate limiting and classified retry
type Client struct {
	baseURL string
	taskID  string
	limiter *ratelimit.Limiter
	metrics Metrics
	http    *resty.Client
}

// NewClient creates a new API client
func NewClient(opts ClientOptions) *Client {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Retry.BaseDelay <= 0 {
		opts.Retry.BaseDelay = DefaultBaseDelay
	}
	if opts.Retry.MaxDelay <= 0 {
		opts.Retry.MaxDelay = DefaultMaxDelay
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}

	client := &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		taskID:  opts.TaskID,
		limiter: opts.Limiter,
		metrics: opts.Metrics,
	}

	client.http = newRestyClient(opts.UserAgent, opts.Timeout, opts.Retry, client.limiter).
		AddRetryHook(func(r *resty.Response, err error) {
			kind := retryKind(r, err)
			client.metrics.RecordRetry(client.taskID, kind)

			attempt := 0
			if r != nil && r.Request != nil {
				attempt = r.Request.Attempt
			}
			log.Warn().
				Str("task_id", client.taskID).
				Str("kind", kind).
				Int("attempt", attempt).
				Int("max_attempts", opts.Retry.MaxAttempts).
				Err(err).
				Msg("Retrying request")
		})

	return client
}

// newRestyClient builds the transport shared by the API client and the downloader.
// Retry count is attempts minus the first one; resty backs off exponentially
// with jitter between the base and max delay.
func newRestyClient(userAgent string, timeout time.Duration, retry RetryPolicy, limiter *ratelimit.Limiter) *resty.Client {
	c := resty.New().
		SetHeader("User-Agent", userAgent).
		SetTimeout(timeout).
		SetRetryCount(retry.MaxAttempts - 1).
		SetRetryWaitTime(retry.BaseDelay).
		SetRetryMaxWaitTime(retry.MaxDelay).
		AddRetryCondition(Retryable).
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal)

	// OnBeforeRequest runs for every attempt, so retries are rate limited too.
	// resty wraps errors returned here as non-retryable.
	if limiter != nil {
		c.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
			return limiter.Acquire(r.Context(), r.URL, 1)
		})
	}
	return c
}

// NewTransport exposes the configured resty client for raw transfers (file downloads)
func NewTransport(userAgent string, timeout time.Duration, retry RetryPolicy, limiter *ratelimit.Limiter) *resty.Client {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = DefaultMaxAttempts
	}
	if retry.BaseDelay <= 0 {
		retry.BaseDelay = DefaultBaseDelay
	}
	if retry.MaxDelay <= 0 {
		retry.MaxDelay = DefaultMaxDelay
	}
	return newRestyClient(userAgent, timeout, retry, limiter)
}

func retryKind(r *resty.Response, err error) string {
	if err != nil {
		return ErrorKind(err)
	}
	if r != nil {
		return ErrorKind(&StatusError{StatusCode: r.StatusCode()})
	}
	return "other"
}

// Get performs a GET request and decodes the JSON object it returns
func (c *Client) Get(ctx context.Context, endpoint string, params map[string]string) (map[string]any, error) {
	req := c.http.R().SetContext(ctx)
	if params != nil {
		req.SetQueryParams(params)
	}
	return c.do(req, resty.MethodGet, endpoint)
}

// Post sends payload as a JSON body
func (c *Client) Post(ctx context.Context, endpoint string, payload any) (map[string]any, error) {
	req := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload)
	return c.do(req, resty.MethodPost, endpoint)
}

func (c *Client) do(req *resty.Request, method, endpoint string) (map[string]any, error) {
	url := c.buildURL(endpoint)

	log.Debug().
		Str("task_id", c.taskID).
		Str("method", method).
		Str("url", url).
		Interface("params", req.QueryParam).
		Msg("Making request")

	resp, err := req.Execute(method, url)
	if err == nil && resp.IsError() {
		err = newStatusError(resp)
	}
	if err != nil {
		kind := ErrorKind(err)
		c.metrics.RecordError(c.taskID, kind)
		log.Error().
			Str("task_id", c.taskID).
			Str("url", url).
			Int("status_code", StatusCode(err)).
			Str("kind", kind).
			Err(err).
			Msg("Request failed")
		return nil, err
	}

	var result map[string]any
	if len(resp.Body()) > 0 {
		if err := json.Unmarshal(resp.Body(), &result); err != nil {
			c.metrics.RecordError(c.taskID, "decode")
			return nil, fmt.Errorf("decode response from %s: %w", url, err)
		}
	}
	if result == nil {
		result = map[string]any{}
	}

	c.metrics.RecordSuccess(c.taskID)
	return result, nil
}

// buildURL constructs the full URL for an endpoint. Absolute URLs pass through.
func (c *Client) buildURL(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	endpoint = strings.TrimPrefix(endpoint, "/")
	return fmt.Sprintf("%s/%s", c.baseURL, endpoint)
}

// BaseURL returns the root the client resolves endpoints against
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetTimeout allows customizing the timeout for specific operations
func (c *Client) SetTimeout(timeout time.Duration) {
	c.http.SetTimeout(timeout)
}

// IsPaginationLimit reports the upstream rejecting a deep page (HTTP 400)
func IsPaginationLimit(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == 400
}
