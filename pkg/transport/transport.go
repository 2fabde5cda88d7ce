// Package transport implements the per-request session transport that carries
// JSON-RPC messages between an HTTP exchange and the server's method handlers.
//
// A Session is created for exactly one inbound request, bound to the server's
// handlers, driven through one Handle call and closed exactly once. Sessions
// are never pooled or reused.
package transport

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/ajitpratap0/mcp-widget-server/pkg/protocol"
)

// Transport is the surface a server binds its method handlers to
type Transport interface {
	// ID returns the session identifier
	ID() string

	// Handler registration, valid only before Connect
	RegisterRequestHandler(method string, handler RequestHandler)
	RegisterNotificationHandler(method string, handler NotificationHandler)

	// Lifecycle management
	Connect() error
	Close() error
	OnClose(fn func())
	State() State

	// Handle decodes one JSON-RPC message and dispatches it. Notifications
	// return a nil response.
	Handle(ctx context.Context, payload []byte) (*protocol.Response, error)
}

// RequestHandler handles incoming requests
type RequestHandler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// NotificationHandler handles incoming notifications
type NotificationHandler func(ctx context.Context, params json.RawMessage) error

// Errors
var (
	ErrSessionClosed    = errors.New("transport: session closed")
	ErrAlreadyConnected = errors.New("transport: session already connected")
	ErrNotConnected     = errors.New("transport: session not connected")
)
