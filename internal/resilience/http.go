package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/covera/internal/core/domain"
)

// maxErrorBody bounds the response text kept in error messages.
const maxErrorBody = 512

// RateLimitError is a 429 response. It unwraps to domain.ErrRateLimited.
type RateLimitError struct {
	Service    string
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited (retry after %s): %s", e.Service, e.RetryAfter, e.Message)
	}
	return fmt.Sprintf("%s: rate limited: %s", e.Service, e.Message)
}

func (e *RateLimitError) Unwrap() error {
	return domain.ErrRateLimited
}

// RetryAfter returns the server's retry hint carried by err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		return rl.RetryAfter, true
	}
	return 0, false
}

// CheckResponse maps a non-2xx response to a domain error:
// 429 to ErrRateLimited, 5xx and 408 to ErrServiceUnavailable, other
// 4xx to ErrInvalidInput. body is the already read response body.
func CheckResponse(service string, resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return StatusError(service, resp.StatusCode, parseRetryAfter(resp.Header.Get("Retry-After")), string(body))
}

// StatusError maps an HTTP status reported by a client library the same
// way CheckResponse maps a raw response.
func StatusError(service string, status int, retryAfter time.Duration, message string) error {
	msg := strings.TrimSpace(message)
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody] + "..."
	}

	switch {
	case status == http.StatusTooManyRequests:
		return &RateLimitError{Service: service, RetryAfter: retryAfter, Message: msg}
	case status >= 500, status == http.StatusRequestTimeout:
		return fmt.Errorf("%s: %w (status %d): %s", service, domain.ErrServiceUnavailable, status, msg)
	default:
		return fmt.Errorf("%s: %w (status %d): %s", service, domain.ErrInvalidInput, status, msg)
	}
}

// TransportError wraps a failed round trip. Cancellation by the caller
// is kept as is; anything else is ErrServiceUnavailable.
func TransportError(service string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", service, err)
	}
	return fmt.Errorf("%s: %w: %w", service, domain.ErrServiceUnavailable, err)
}

// parseRetryAfter reads a Retry-After header given in seconds or as an
// HTTP date.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
