package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"

	"github.com/go-resty/resty/v2"
)

// StatusError is returned when the upstream answers with a status >= 400
// (after retries, if the status was retryable)
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d from %s", e.StatusCode, e.URL)
	}
	return fmt.Sprintf("HTTP %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// newStatusError trims the body so log lines stay readable
func newStatusError(resp *resty.Response) *StatusError {
	body := string(resp.Body())
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return &StatusError{
		URL:        resp.Request.URL,
		StatusCode: resp.StatusCode(),
		Body:       body,
	}
}

// StatusCode returns the HTTP status carried by err, or 0
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// IsTimeout reports transport timeouts. Context deadlines set by the caller
// are not timeouts of the request itself.
func IsTimeout(err error) bool {
	if err == nil || !isTransport(err) {
		return false
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isTransport(err error) bool {
	var ue *url.Error
	if errors.As(err, &ue) {
		return true
	}
	// context.DeadlineExceeded also satisfies net.Error
	if errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// Retryable classifies a failed attempt:
//   - timeouts are retried
//   - 429 and 5xx are retried, other 4xx are not
//   - other transport errors are retried
//   - anything else (cancellation, decoding, rate-limit refusal) is not
func Retryable(resp *resty.Response, err error) bool {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return false
		}
		if IsTimeout(err) {
			return true
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return false
		}
		return isTransport(err)
	}
	if resp == nil {
		return false
	}

	code := resp.StatusCode()
	switch {
	case code == 429:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}

// ErrorKind maps an error to a short label for metrics and logs
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "canceled"
	case IsTimeout(err):
		return "timeout"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline"
	}

	if code := StatusCode(err); code != 0 {
		switch {
		case code == 429:
			return "rate_limited"
		case code >= 500:
			return "server_error"
		default:
			return fmt.Sprintf("http_%d", code)
		}
	}
	if isTransport(err) {
		return "transport"
	}
	return "other"
}
