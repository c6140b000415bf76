package transport

import (
	"context"
	"errors"
	"net"
	"net/url"

	"github.com/nanogit/gitcore/retry"
)

// HTTPRetrier wraps another retry.Retrier so that only HTTP-specific,
// known-safe-to-retry errors are retried: network timeouts and
// ServerUnavailableError where the failed operation is idempotent.
//
// POST requests (upload-pack/receive-pack bodies) are never retried once
// the server has seen them, since the request body may have been
// partially consumed; GET and DELETE are retried freely. HTTP 429 is
// retried regardless of method, since it implies the server never
// processed the request at all.
type HTTPRetrier struct {
	wrapped retry.Retrier
}

// NewHTTPRetrier wraps retrier, defaulting to retry.NoopRetrier if nil.
func NewHTTPRetrier(wrapped retry.Retrier) *HTTPRetrier {
	if wrapped == nil {
		wrapped = &retry.NoopRetrier{}
	}
	return &HTTPRetrier{wrapped: wrapped}
}

// ShouldRetry implements retry.Retrier.
func (r *HTTPRetrier) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if isTimeoutNetworkError(err) {
		return r.wrapped.ShouldRetry(err, attempt)
	}

	var serverErr *ServerUnavailableError
	if errors.As(err, &serverErr) {
		if !isRetryableOperation(serverErr.Operation, serverErr.StatusCode) {
			return false
		}
		return r.wrapped.ShouldRetry(err, attempt)
	}

	return false
}

// Wait delegates to the wrapped retrier.
func (r *HTTPRetrier) Wait(ctx context.Context, attempt int) error {
	return r.wrapped.Wait(ctx, attempt)
}

// MaxAttempts delegates to the wrapped retrier.
func (r *HTTPRetrier) MaxAttempts() int {
	return r.wrapped.MaxAttempts()
}

func isTimeoutNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		var inner net.Error
		if errors.As(urlErr.Err, &inner) && inner.Timeout() {
			return true
		}
	}
	return false
}

// isRetryableOperation mirrors HTTP idempotency: POST bodies may already
// be partially sent, so only GET/DELETE (and any network-error case with
// no HTTP method at all) are retried on 5xx. 429 is always retryable.
func isRetryableOperation(operation string, statusCode int) bool {
	if statusCode == 0 {
		return true
	}
	if statusCode == 429 {
		return true
	}
	switch statusCode {
	case 500, 502, 503, 504:
		return operation == "GET" || operation == "DELETE" || operation == ""
	default:
		return false
	}
}
