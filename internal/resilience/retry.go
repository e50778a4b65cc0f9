package resilience

import (
	"context"
	"errors"
	"net"
	"net/url"
	"time"
)

// MaxAttempts is one initial call plus three retries.
const MaxAttempts = 4

// RetryPolicy classifies engine failures and computes backoff delays.
// It is stateless and safe for concurrent use.
type RetryPolicy struct{}

// retryableStatusCodes are transient HTTP failures worth another attempt.
var retryableStatusCodes = map[int]bool{
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// IsRetryable reports whether a failed call should be attempted again.
// Network and timeout errors are always retryable; otherwise the HTTP status
// decides (429 and 5xx retry, other 4xx fail fast). statusCode 0 means no
// HTTP response was received.
func (RetryPolicy) IsRetryable(err error, statusCode int) bool {
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) {
			return true
		}
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return true
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return true
		}
	}
	return retryableStatusCodes[statusCode]
}

// DelayForAttempt returns the backoff before the given attempt:
// attempt 1 is immediate, then 1s, 2s, 4s.
func (RetryPolicy) DelayForAttempt(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	return time.Second << (attempt - 2)
}

// ShouldRetry reports whether another attempt remains after the given one.
func (RetryPolicy) ShouldRetry(attempt int) bool {
	return attempt < MaxAttempts
}
