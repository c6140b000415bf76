package transport

import (
	"context"
	"errors"
)

// ErrUserCanceled is returned when an auth Fill callback cancels the
// operation instead of supplying credentials.
var ErrUserCanceled = errors.New("transport: canceled by auth callback")

// Auth is the credential set exchanged with auth callbacks: what the
// backend is currently sending, and what the callback wants sent instead.
type Auth struct {
	Username string
	Password string
	// Headers are sent verbatim on the retried request, for token schemes
	// that don't fit basic auth.
	Headers map[string]string
}

// AuthCallbacks lets a caller supply credentials interactively. When the
// smart-HTTP backend's discovery request is rejected with 401 (or a proxy's
// 203 rewrite of one), it invokes Fill once with the credentials it used;
// the returned Auth is applied and the request retried exactly once.
// Failure fires if the retry is rejected too, Success if it goes through.
// Fill returning cancel=true aborts with ErrUserCanceled.
type AuthCallbacks struct {
	Fill    func(ctx context.Context, url string, current Auth) (auth Auth, cancel bool, err error)
	Success func(ctx context.Context, url string, auth Auth)
	Failure func(ctx context.Context, url string, auth Auth)
}

// WithAuthCallbacks installs interactive credential callbacks on the
// smart-HTTP backend.
func WithAuthCallbacks(cb AuthCallbacks) Option {
	return func(cfg *Config) error {
		cfg.AuthCallbacks = &cb
		return nil
	}
}
