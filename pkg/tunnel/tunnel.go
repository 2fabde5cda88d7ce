// Package tunnel exposes the local listener on a public URL.
package tunnel

import (
	"context"
	"errors"
)

// ErrMissingCredential is returned when no auth token was configured
var ErrMissingCredential = errors.New("tunnel: auth token is missing")

// Tunnel is an open public endpoint forwarding to the local listener
type Tunnel interface {
	// URL is the public base URL
	URL() string

	// Close stops forwarding. Only the first call has an effect.
	Close(ctx context.Context) error
}

// Opener opens a tunnel to a local port
type Opener interface {
	Open(ctx context.Context, port int) (Tunnel, error)
}
