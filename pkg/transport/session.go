package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	mcperrors "github.com/ajitpratap0/mcp-widget-server/pkg/errors"
	"github.com/ajitpratap0/mcp-widget-server/pkg/logging"
	"github.com/ajitpratap0/mcp-widget-server/pkg/protocol"
)

// State is the position of a Session in its lifecycle
type State int32

const (
	StateCreated State = iota
	StateConnected
	StateHandling
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConnected:
		return "connected"
	case StateHandling:
		return "handling"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Option configures a Session
type Option func(*Session)

// WithLogger sets the session logger
func WithLogger(logger logging.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Session is a transport bound to a single inbound request. It owns its
// handler tables, the in-flight correlation table used by
// notifications/cancelled, and the hooks run on close.
type Session struct {
	id     string
	logger logging.Logger
	state  atomic.Int32

	mu                   sync.Mutex
	requestHandlers      map[string]RequestHandler
	notificationHandlers map[string]NotificationHandler
	inflight             map[string]context.CancelFunc
	hooks                []func()

	// done is cancelled on Close and propagates into every handler context
	done      context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

var _ Transport = (*Session)(nil)

// NewSession allocates a session in the CREATED state
func NewSession(id string, opts ...Option) *Session {
	done, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:                   id,
		logger:               logging.Nop(),
		requestHandlers:      make(map[string]RequestHandler),
		notificationHandlers: make(map[string]NotificationHandler),
		inflight:             make(map[string]context.CancelFunc),
		done:                 done,
		cancel:               cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithFields(logging.String("session_id", id))
	s.state.Store(int32(StateCreated))
	return s
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state
func (s *Session) State() State {
	return State(s.state.Load())
}

// Done is closed when the session closes
func (s *Session) Done() <-chan struct{} {
	return s.done.Done()
}

// RegisterRequestHandler registers a handler for a request method. Handlers
// registered after Connect are ignored.
func (s *Session) RegisterRequestHandler(method string, handler RequestHandler) {
	if s.State() != StateCreated {
		s.logger.Warn("Ignoring handler registered after connect", logging.String("method", method))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestHandlers[method] = handler
}

// RegisterNotificationHandler registers a handler for a notification method
func (s *Session) RegisterNotificationHandler(method string, handler NotificationHandler) {
	if s.State() != StateCreated {
		s.logger.Warn("Ignoring handler registered after connect", logging.String("method", method))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notificationHandlers[method] = handler
}

// Connect moves the session from CREATED to CONNECTED
func (s *Session) Connect() error {
	if s.state.CompareAndSwap(int32(StateCreated), int32(StateConnected)) {
		return nil
	}
	if s.State() == StateClosed {
		return ErrSessionClosed
	}
	return ErrAlreadyConnected
}

// OnClose registers fn to run once when the session closes. If the session is
// already closed fn runs immediately.
func (s *Session) OnClose(fn func()) {
	s.mu.Lock()
	if s.State() != StateClosed {
		s.hooks = append(s.hooks, fn)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.runHook(fn)
}

// Close moves the session to CLOSED, cancels in-flight handlers and runs the
// close hooks. Only the first call has any effect.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state.Store(int32(StateClosed))
		hooks := s.hooks
		s.hooks = nil
		s.inflight = make(map[string]context.CancelFunc)
		s.mu.Unlock()

		s.cancel()

		for i := len(hooks) - 1; i >= 0; i-- {
			s.runHook(hooks[i])
		}
		s.logger.Debug("Session closed")
	})
	return nil
}

func (s *Session) runHook(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Close hook panicked", logging.Any("panic", r))
		}
	}()
	fn()
}

// Handle decodes payload as a single JSON-RPC message and dispatches it.
// Malformed frames yield an error response. Notifications yield a nil
// response. If the session closes or ctx is cancelled while the handler runs,
// the session is closed, ErrSessionClosed is returned and no response is
// produced.
func (s *Session) Handle(ctx context.Context, payload []byte) (*protocol.Response, error) {
	if err := s.enterHandling(); err != nil {
		return nil, err
	}

	req, err := protocol.DecodeRequest(payload)
	if err != nil {
		return s.decodeFailure(req, err), nil
	}

	if req.IsNotification() {
		s.handleNotification(ctx, req)
		if s.State() == StateClosed {
			return nil, ErrSessionClosed
		}
		return nil, nil
	}

	return s.handleRequest(ctx, req)
}

func (s *Session) enterHandling() error {
	for {
		switch current := s.State(); current {
		case StateHandling:
			return nil
		case StateConnected:
			if s.state.CompareAndSwap(int32(StateConnected), int32(StateHandling)) {
				return nil
			}
		case StateClosed:
			return ErrSessionClosed
		default:
			return ErrNotConnected
		}
	}
}

func (s *Session) decodeFailure(req *protocol.Request, err error) *protocol.Response {
	var id interface{}
	if req != nil {
		switch req.ID.(type) {
		case string, json.Number:
			id = req.ID
		}
	}

	var decodeErr *protocol.DecodeError
	if !errors.As(err, &decodeErr) {
		return mcperrors.ToJSONRPCResponse(mcperrors.InvalidRequest(err.Error()), id)
	}

	s.logger.Debug("Rejected malformed message", logging.String("reason", decodeErr.Reason))
	if decodeErr.Code == protocol.ParseError {
		return mcperrors.ToJSONRPCResponse(mcperrors.ParseError(errors.New(decodeErr.Reason)), nil)
	}
	return mcperrors.ToJSONRPCResponse(mcperrors.InvalidRequest(decodeErr.Reason), id)
}

func (s *Session) handleRequest(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	s.mu.Lock()
	handler, ok := s.requestHandlers[req.Method]
	s.mu.Unlock()

	if !ok {
		return mcperrors.ToJSONRPCResponse(mcperrors.MethodNotFound(req.Method), req.ID), nil
	}

	reqCtx, cancel := context.WithCancel(logging.ContextWithSessionID(ctx, s.id))
	defer cancel()
	stop := context.AfterFunc(s.done, cancel)
	defer stop()

	key := req.IDKey()
	if !s.track(key, cancel) {
		return nil, ErrSessionClosed
	}
	defer s.untrack(key)

	result, err := s.invoke(reqCtx, handler, req)

	// A cancelled caller context means the connection is gone; the close
	// may not have been observed yet, so close here and encode nothing.
	if ctx.Err() != nil {
		_ = s.Close()
		return nil, ErrSessionClosed
	}
	if s.State() == StateClosed {
		return nil, ErrSessionClosed
	}
	if err != nil {
		if reqCtx.Err() != nil {
			err = mcperrors.OperationCancelled(req.Method)
		}
		return mcperrors.ToJSONRPCResponse(err, req.ID), nil
	}

	resp, err := protocol.NewResponse(req.ID, result)
	if err != nil {
		s.logger.WithError(err).Error("Failed to encode result", logging.String("method", req.Method))
		return mcperrors.ToJSONRPCResponse(mcperrors.InternalError(req.Method, err), req.ID), nil
	}
	return resp, nil
}

// invoke runs handler, converting a panic into an internal error
func (s *Session) invoke(ctx context.Context, handler RequestHandler, req *protocol.Request) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Request handler panicked",
				logging.String("method", req.Method),
				logging.Any("panic", r))
			result = nil
			err = mcperrors.InternalError(req.Method, fmt.Errorf("panic: %v", r))
		}
	}()
	return handler(ctx, req.Params)
}

func (s *Session) handleNotification(ctx context.Context, req *protocol.Request) {
	if req.Method == protocol.MethodCancelled {
		s.cancelInflight(req.Params)
		return
	}

	s.mu.Lock()
	handler, ok := s.notificationHandlers[req.Method]
	s.mu.Unlock()

	if !ok {
		s.logger.Debug("Ignoring unhandled notification", logging.String("method", req.Method))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Notification handler panicked",
				logging.String("method", req.Method),
				logging.Any("panic", r))
		}
	}()

	if err := handler(logging.ContextWithSessionID(ctx, s.id), req.Params); err != nil {
		s.logger.WithError(err).Warn("Notification handler failed", logging.String("method", req.Method))
	}
}

func (s *Session) cancelInflight(params json.RawMessage) {
	var p protocol.CancelledParams
	dec := json.NewDecoder(bytes.NewReader(params))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		s.logger.Debug("Ignoring malformed cancellation", logging.ErrorField(err))
		return
	}

	key := protocol.IDKey(p.RequestID)
	s.mu.Lock()
	cancel, ok := s.inflight[key]
	s.mu.Unlock()

	if !ok {
		s.logger.Debug("Cancellation for unknown request", logging.Any("request_id", p.RequestID))
		return
	}
	s.logger.Info("Cancelling request",
		logging.Any("request_id", p.RequestID),
		logging.String("reason", p.Reason))
	cancel()
}

func (s *Session) track(key string, cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() == StateClosed {
		return false
	}
	if key != "" {
		s.inflight[key] = cancel
	}
	return true
}

func (s *Session) untrack(key string) {
	if key == "" {
		return
	}
	s.mu.Lock()
	delete(s.inflight, key)
	s.mu.Unlock()
}

// InFlight returns the number of requests currently tracked for cancellation
func (s *Session) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}
