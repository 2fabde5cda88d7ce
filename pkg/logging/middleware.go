package logging

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// RequestIDHeader carries the request ID in and out of the server
const RequestIDHeader = "X-Request-ID"

// HTTPMiddleware logs each HTTP exchange. It keeps an incoming X-Request-ID,
// generates one otherwise, echoes it on the response and stores it in the
// request context.
func HTTPMiddleware(logger Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, requestID)
			r = r.WithContext(ContextWithRequestID(r.Context(), requestID))

			cw := &countingWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(cw, r)

			fields := []Field{
				String("request_id", requestID),
				String("method", r.Method),
				String("path", r.URL.Path),
				String("remote_addr", r.RemoteAddr),
				Int("status", cw.status),
				Int("bytes", cw.bytes),
				Duration("duration", time.Since(start)),
			}
			if cw.status >= http.StatusInternalServerError {
				logger.Warn("HTTP request failed", fields...)
				return
			}
			logger.Info("HTTP request completed", fields...)
		})
	}
}

type countingWriter struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (w *countingWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *countingWriter) Write(data []byte) (int, error) {
	w.wroteHeader = true
	n, err := w.ResponseWriter.Write(data)
	w.bytes += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer
func (w *countingWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// MethodHandler matches the JSON-RPC request handler signature
type MethodHandler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// LogMethod logs the outcome of a JSON-RPC method handler. Failures are
// logged at warn with the error context; successes at debug.
func LogMethod(logger Logger, method string, handler MethodHandler) MethodHandler {
	return func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		start := time.Now()
		result, err := handler(ctx, params)

		l := logger.WithContext(ctx).WithFields(
			String("rpc_method", method),
			Duration("duration", time.Since(start)),
		)
		if err != nil {
			l.WithError(err).Warn("Method failed")
		} else {
			l.Debug("Method completed", Int("params_bytes", len(params)))
		}
		return result, err
	}
}
