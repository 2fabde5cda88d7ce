package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ajitpratap0/mcp-widget-server/pkg/logging"
	"github.com/ajitpratap0/mcp-widget-server/pkg/observability"
	"github.com/ajitpratap0/mcp-widget-server/pkg/protocol"
	"github.com/ajitpratap0/mcp-widget-server/pkg/transport"
)

// DefaultMaxBodyBytes caps the size of a JSON-RPC request body
const DefaultMaxBodyBytes int64 = 5 << 20

// internalErrorMessage is the only detail clients see for internal failures
const internalErrorMessage = "Internal MCP server error"

// SessionConnector binds a fresh session to the server's methods
type SessionConnector interface {
	Connect(t transport.Transport) error
}

// HTTPHandler serves MCP over HTTP with one session per request. Each
// request gets a fresh session that is closed exactly once, either when the
// response is complete or when the client goes away, whichever comes first.
type HTTPHandler struct {
	connector    SessionConnector
	metrics      observability.MetricsProvider
	logger       logging.Logger
	maxBodyBytes int64
	newID        func() string
}

// HTTPOption configures an HTTPHandler
type HTTPOption func(*HTTPHandler)

// WithMaxBodyBytes sets the request body limit
func WithMaxBodyBytes(n int64) HTTPOption {
	return func(h *HTTPHandler) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

// WithHTTPLogger sets the handler's logger
func WithHTTPLogger(logger logging.Logger) HTTPOption {
	return func(h *HTTPHandler) {
		h.logger = logger
	}
}

// WithSessionMetrics sets where session metrics are recorded
func WithSessionMetrics(metrics observability.MetricsProvider) HTTPOption {
	return func(h *HTTPHandler) {
		h.metrics = metrics
	}
}

// NewHTTPHandler creates the /mcp handler
func NewHTTPHandler(connector SessionConnector, opts ...HTTPOption) *HTTPHandler {
	h := &HTTPHandler{
		connector:    connector,
		metrics:      observability.NewNoopMetricsProvider(),
		logger:       logging.Nop(),
		maxBodyBytes: DefaultMaxBodyBytes,
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.WithFields(logging.String("component", "http_handler"))
	return h
}

// ServeHTTP handles HTTP requests
func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session := transport.NewSession(h.newID(), transport.WithLogger(h.logger))
	logger := h.logger.WithContext(ctx).WithFields(logging.String("session_id", session.ID()))

	opened := time.Now()
	var clientClosed atomic.Bool
	h.metrics.RecordSessionOpened(ctx)
	session.OnClose(func() {
		outcome := observability.SessionCompleted
		if clientClosed.Load() || ctx.Err() != nil {
			outcome = observability.SessionClientClosed
		}
		h.metrics.RecordSessionClosed(ctx, outcome, time.Since(opened))
		logger.Debug("Session closed", logging.String("outcome", outcome))
	})

	defer session.Close()
	stop := context.AfterFunc(ctx, func() {
		clientClosed.Store(true)
		_ = session.Close()
	})
	defer stop()

	if err := h.connector.Connect(session); err != nil {
		logger.WithError(err).Error("Failed to connect session")
		writeJSONRPCError(w, http.StatusInternalServerError, protocol.InternalError, internalErrorMessage)
		return
	}

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSONRPCError(w, http.StatusMethodNotAllowed, protocol.ErrorCode(-32000), "Method not allowed.")
		return
	}

	if ct := r.Header.Get("Content-Type"); ct != "" {
		if mediaType, _, err := mime.ParseMediaType(ct); err != nil || mediaType != "application/json" {
			writeJSONRPCError(w, http.StatusUnsupportedMediaType, protocol.ErrorCode(-32000),
				"Unsupported Media Type: Content-Type must be application/json")
			return
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONRPCError(w, http.StatusRequestEntityTooLarge, protocol.InvalidRequest, "Request body too large")
			return
		}
		if ctx.Err() != nil {
			logger.Debug("Client went away while sending the request")
			return
		}
		writeJSONRPCError(w, http.StatusBadRequest, protocol.ParseError, "Parse error")
		return
	}

	resp, err := session.Handle(ctx, body)
	if err != nil {
		if errors.Is(err, transport.ErrSessionClosed) {
			if ctx.Err() != nil {
				clientClosed.Store(true)
			}
			logger.Debug("Session closed before the response was ready")
			return
		}
		logger.WithError(err).Error("Failed to handle MCP request")
		writeJSONRPCError(w, http.StatusInternalServerError, protocol.InternalError, internalErrorMessage)
		return
	}

	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	// Encode before writing headers so a failure can still become an error response
	payload, err := json.Marshal(resp)
	if err != nil {
		logger.WithError(err).Error("Failed to encode MCP response")
		writeJSONRPCError(w, http.StatusInternalServerError, protocol.InternalError, internalErrorMessage)
		return
	}

	if ctx.Err() != nil {
		clientClosed.Store(true)
		_ = session.Close()
		logger.Debug("Client went away before the response was written")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(resp))
	if _, err := io.Copy(w, bytes.NewReader(payload)); err != nil {
		logger.WithError(err).Warn("Failed to write MCP response; aborting connection")
		panic(http.ErrAbortHandler)
	}
}

func statusFor(resp *protocol.Response) int {
	if resp.Error != nil && (resp.Error.Code == protocol.ParseError || resp.Error.Code == protocol.InvalidRequest) {
		return http.StatusBadRequest
	}
	return http.StatusOK
}

func writeJSONRPCError(w http.ResponseWriter, status int, code protocol.ErrorCode, message string) {
	payload, err := json.Marshal(protocol.NewErrorResponse(nil, code, message, nil))
	if err != nil {
		http.Error(w, message, status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}
