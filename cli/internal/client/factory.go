package client

import (
	"context"

	"github.com/nanogit/gitcore-cli/internal/auth"
	"github.com/nanogit/gitcore/transport"
)

// New dials a transport.Backend for remote, applying the given auth config.
func New(ctx context.Context, remote string, authConfig *auth.Config) (transport.Backend, error) {
	return transport.Dial(ctx, remote, authConfig.ToOptions()...)
}
