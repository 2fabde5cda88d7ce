// Package lifecycle runs the HTTP listener and the optional tunnel, and shuts
// both down exactly once.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	mcperrors "github.com/ajitpratap0/mcp-widget-server/pkg/errors"
	"github.com/ajitpratap0/mcp-widget-server/pkg/logging"
	"github.com/ajitpratap0/mcp-widget-server/pkg/observability"
	"github.com/ajitpratap0/mcp-widget-server/pkg/tunnel"
)

// State is the controller's position in its lifecycle
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Tunnel states recorded in metrics
const (
	tunnelDisabled  = "disabled"
	tunnelConnected = "connected"
	tunnelFailed    = "failed"
	tunnelClosed    = "closed"
)

// DefaultShutdownTimeout bounds the wait for in-flight requests
const DefaultShutdownTimeout = 10 * time.Second

// ErrAlreadyStarted is returned by Start on a controller that has been started
var ErrAlreadyStarted = errors.New("lifecycle: controller already started")

// Config configures the controller
type Config struct {
	// Port to listen on; 0 picks a free port
	Port int

	// ShutdownTimeout bounds the graceful drain of in-flight requests
	ShutdownTimeout time.Duration

	// ReadHeaderTimeout protects the listener from slow clients
	ReadHeaderTimeout time.Duration
}

// Option configures a Controller
type Option func(*Controller)

// WithTunnel opens a public tunnel after the listener binds
func WithTunnel(opener tunnel.Opener) Option {
	return func(c *Controller) {
		c.opener = opener
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithMetrics records the tunnel state
func WithMetrics(metrics observability.MetricsProvider) Option {
	return func(c *Controller) {
		c.metrics = metrics
	}
}

// WithShutdownHook runs fn after the listener has been closed. Hooks run in
// registration order; their errors are logged.
func WithShutdownHook(name string, fn func(context.Context) error) Option {
	return func(c *Controller) {
		c.hooks = append(c.hooks, namedHook{name: name, fn: fn})
	}
}

type namedHook struct {
	name string
	fn   func(context.Context) error
}

// Controller owns the listener and the tunnel
type Controller struct {
	cfg     Config
	handler http.Handler
	opener  tunnel.Opener
	logger  logging.Logger
	metrics observability.MetricsProvider
	hooks   []namedHook

	state atomic.Int32

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	tun      tunnel.Tunnel
	port     int
	group    *errgroup.Group
	groupCtx context.Context
	stopped  chan struct{}
}

// New creates a controller serving handler
func New(cfg Config, handler http.Handler, opts ...Option) *Controller {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	c := &Controller{
		cfg:     cfg,
		handler: handler,
		logger:  logging.Nop(),
		metrics: observability.NewNoopMetricsProvider(),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithFields(logging.String("component", "lifecycle"))
	return c
}

// State returns the current state
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Port returns the bound port, or 0 before Start
func (c *Controller) Port() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port
}

// Addr returns the listener address, or nil before Start
func (c *Controller) Addr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener == nil {
		return nil
	}
	return c.listener.Addr()
}

// TunnelURL returns the public URL, or "" without an open tunnel
func (c *Controller) TunnelURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tun == nil {
		return ""
	}
	return c.tun.URL()
}

// Stopped is closed once shutdown has finished
func (c *Controller) Stopped() <-chan struct{} {
	return c.stopped
}

// Start binds the listener, serves in the background and opens the tunnel
// if one is configured. A bind failure is returned; tunnel failures are
// logged and the server continues local-only.
func (c *Controller) Start(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return ErrAlreadyStarted
	}

	// Shutdown waits on mu, so it never sees a half-started server
	c.mu.Lock()
	if c.State() != StateRunning {
		c.mu.Unlock()
		return errors.New("lifecycle: shut down before start completed")
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", c.cfg.Port))
	if err != nil {
		c.mu.Unlock()
		c.state.Store(int32(StateStopped))
		close(c.stopped)
		return fmt.Errorf("listen on port %d: %w", c.cfg.Port, err)
	}

	srv := &http.Server{
		Handler:           c.handler,
		ReadHeaderTimeout: c.cfg.ReadHeaderTimeout,
	}
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(c.recovering("http-server", func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}))

	c.listener = ln
	c.server = srv
	c.port = ln.Addr().(*net.TCPAddr).Port
	c.group = group
	c.groupCtx = groupCtx
	port := c.port
	c.mu.Unlock()

	c.logger.Info(fmt.Sprintf("Hello MCP server listening on http://localhost:%d/mcp", port),
		logging.Int("port", port))

	c.openTunnel(ctx, port)
	return nil
}

func (c *Controller) openTunnel(ctx context.Context, port int) {
	if c.opener == nil {
		c.metrics.RecordTunnelState(ctx, tunnelDisabled)
		return
	}

	tun, err := c.opener.Open(ctx, port)
	if err != nil {
		if errors.Is(err, tunnel.ErrMissingCredential) {
			c.logger.Warn("ENABLE_NGROK is true but NGROK_AUTHTOKEN is missing. Skipping tunnel.")
			c.metrics.RecordTunnelState(ctx, tunnelDisabled)
			return
		}
		if !mcperrors.IsTunnelEstablish(err) {
			err = mcperrors.TunnelEstablish(tunnel.Provider, err)
		}
		c.logger.WithError(err).Error("Unable to establish ngrok tunnel. Verify NGROK_AUTHTOKEN is valid.")
		c.metrics.RecordTunnelState(ctx, tunnelFailed)
		return
	}

	c.mu.Lock()
	if c.State() != StateRunning {
		// Shutdown started while the tunnel was opening
		c.mu.Unlock()
		c.closeTunnel(ctx, tun)
		return
	}
	c.tun = tun
	c.mu.Unlock()

	c.logger.Info(fmt.Sprintf("ngrok tunnel established at %s/mcp", tun.URL()), logging.String("url", tun.URL()))
	c.metrics.RecordTunnelState(ctx, tunnelConnected)
}

func (c *Controller) closeTunnel(ctx context.Context, tun tunnel.Tunnel) {
	if err := tun.Close(ctx); err != nil {
		c.logger.WithError(err).Error("Failed to close ngrok listener")
		return
	}
	c.logger.Info("Closed ngrok listener")
	c.metrics.RecordTunnelState(ctx, tunnelClosed)
}

// Shutdown closes the tunnel and then the listener, waiting for in-flight
// requests up to the shutdown timeout. Only the first call does anything;
// later calls return immediately.
func (c *Controller) Shutdown(ctx context.Context, reason string) error {
	if !c.state.CompareAndSwap(int32(StateRunning), int32(StateShuttingDown)) {
		c.logger.Debug("Shutdown already handled", logging.String("reason", reason), logging.String("state", c.State().String()))
		return nil
	}

	c.logger.Info(fmt.Sprintf("Received %s. Shutting down MCP server…", reason))

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ShutdownTimeout)
	defer cancel()

	c.mu.Lock()
	tun := c.tun
	c.tun = nil
	srv := c.server
	group := c.group
	c.mu.Unlock()

	if tun != nil {
		c.closeTunnel(sctx, tun)
	}

	var result error
	if srv != nil {
		if err := srv.Shutdown(sctx); err != nil {
			c.logger.WithError(err).Warn("Graceful shutdown timed out; closing remaining connections")
			_ = srv.Close()
			result = err
		}
		if err := group.Wait(); err != nil && result == nil {
			result = err
		}
		c.logger.Info("HTTP server closed")
	}

	for _, hook := range c.hooks {
		if err := hook.fn(sctx); err != nil {
			c.logger.WithError(err).Warn("Shutdown hook failed", logging.String("hook", hook.name))
		}
	}

	c.state.Store(int32(StateStopped))
	close(c.stopped)
	return result
}

// Run starts the controller and shuts it down on the first signal or when
// ctx is done. Later signals are logged and ignored. It returns once
// shutdown has finished.
func (c *Controller) Run(ctx context.Context, signals <-chan os.Signal) error {
	if err := c.Start(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	groupDone := c.groupCtx.Done()
	c.mu.Unlock()

	done := make(chan error, 1)
	triggered := false
	trigger := func(reason string) {
		if triggered {
			c.logger.Info(fmt.Sprintf("Received %s while shutting down; ignoring", reason))
			return
		}
		triggered = true
		go func() {
			err := errors.New("lifecycle: shutdown panicked")
			defer func() { done <- err }()
			_ = c.recovering("shutdown", func() error {
				err = c.Shutdown(context.Background(), reason)
				return nil
			})()
		}()
	}

	for {
		select {
		case sig, ok := <-signals:
			if !ok {
				signals = nil
				continue
			}
			trigger(sig.String())
		case <-groupDone:
			groupDone = nil
			reason := "context cancellation"
			if ctx.Err() == nil {
				reason = "listener failure"
			}
			trigger(reason)
		case err := <-done:
			return err
		}
	}
}

// recovering wraps a background task so a panic is logged instead of
// terminating the process.
func (c *Controller) recovering(name string, fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("Background task panicked",
					logging.String("task", name),
					logging.Any("panic", r),
				)
				err = nil
			}
		}()
		return fn()
	}
}
