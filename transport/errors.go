package transport

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/nanogit/gitcore/protocol"
)

// ErrServerUnavailable is returned when the remote is unavailable (HTTP
// 5xx, or 429 Too Many Requests). This error should only be used with
// errors.Is(), not type assertions.
var ErrServerUnavailable = errors.New("transport: server unavailable")

// ErrUnauthorized is returned when authentication fails (HTTP 401).
var ErrUnauthorized = errors.New("transport: unauthorized")

// ErrPermissionDenied is returned when the credentials are valid but lack
// permission for the operation (HTTP 403).
var ErrPermissionDenied = errors.New("transport: permission denied")

// ErrRepositoryNotFound is returned when the remote repository does not
// exist, or the caller lacks even enough permission to learn that (HTTP 404).
var ErrRepositoryNotFound = errors.New("transport: repository not found")

// ServerUnavailableError provides structured detail for ErrServerUnavailable.
type ServerUnavailableError struct {
	StatusCode int
	Operation  string
	Underlying error
}

func (e *ServerUnavailableError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("server unavailable (operation %s, status code %d): %v", e.Operation, e.StatusCode, e.Underlying)
	}
	return fmt.Sprintf("server unavailable (status code %d): %v", e.StatusCode, e.Underlying)
}

func (e *ServerUnavailableError) Unwrap() error { return e.Underlying }

// Is matches both this package's sentinel and protocol.ErrServerUnavailable,
// which the retry package's stock retriers test for, so a 5xx surfaced here
// is retried the same way one surfaced by the protocol layer would be.
func (e *ServerUnavailableError) Is(target error) bool {
	return target == ErrServerUnavailable || target == protocol.ErrServerUnavailable
}

// NewServerUnavailableError builds a ServerUnavailableError; operation may
// be empty if the HTTP method is unknown (e.g. a non-HTTP backend).
func NewServerUnavailableError(operation string, statusCode int, underlying error) *ServerUnavailableError {
	return &ServerUnavailableError{Operation: operation, StatusCode: statusCode, Underlying: underlying}
}

// CheckServerUnavailable converts a 5xx/429 HTTP response into a
// *ServerUnavailableError, or returns nil for any other status.
func CheckServerUnavailable(res *http.Response) error {
	if res.StatusCode >= 500 || res.StatusCode == http.StatusTooManyRequests {
		op := ""
		if res.Request != nil {
			op = res.Request.Method
		}
		return NewServerUnavailableError(op, res.StatusCode, fmt.Errorf("got status code %d: %s", res.StatusCode, res.Status))
	}
	return nil
}

// ClientError provides structured detail for the 4xx family of errors this
// package recognizes (unauthorized, permission denied, not found).
type ClientError struct {
	Sentinel   error
	StatusCode int
	Operation  string
	Endpoint   string
	Underlying error
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("%s (operation %s, endpoint %s, status code %d): %v",
		e.Sentinel, e.Operation, e.Endpoint, e.StatusCode, e.Underlying)
}

func (e *ClientError) Unwrap() error       { return e.Underlying }
func (e *ClientError) Is(target error) bool { return target == e.Sentinel }

// CheckHTTPClientError converts a recognized 4xx HTTP response into a
// *ClientError wrapping ErrUnauthorized/ErrPermissionDenied/ErrRepositoryNotFound.
// Other 4xx status codes return nil; callers handle those generically.
func CheckHTTPClientError(res *http.Response) error {
	if res.StatusCode < 400 || res.StatusCode >= 500 {
		return nil
	}

	op, endpoint := "", ""
	if res.Request != nil {
		op = res.Request.Method
		endpoint = extractEndpoint(res.Request.URL.Path)
	}
	underlying := fmt.Errorf("got status code %d: %s", res.StatusCode, res.Status)

	switch res.StatusCode {
	case http.StatusUnauthorized:
		return &ClientError{Sentinel: ErrUnauthorized, StatusCode: res.StatusCode, Operation: op, Endpoint: endpoint, Underlying: underlying}
	case http.StatusForbidden:
		return &ClientError{Sentinel: ErrPermissionDenied, StatusCode: res.StatusCode, Operation: op, Endpoint: endpoint, Underlying: underlying}
	case http.StatusNotFound:
		return &ClientError{Sentinel: ErrRepositoryNotFound, StatusCode: res.StatusCode, Operation: op, Endpoint: endpoint, Underlying: underlying}
	default:
		return nil
	}
}

// extractEndpoint identifies which Git protocol endpoint a request path
// targeted, for inclusion in error messages.
func extractEndpoint(path string) string {
	if idx := strings.Index(path, "?"); idx != -1 {
		path = path[:idx]
	}
	switch {
	case strings.Contains(path, "git-receive-pack"):
		return "git-receive-pack"
	case strings.Contains(path, "git-upload-pack"):
		return "git-upload-pack"
	case strings.Contains(path, "info/refs"):
		return "info/refs"
	default:
		return "unknown"
	}
}
