package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	mcperrors "github.com/ajitpratap0/mcp-widget-server/pkg/errors"
	"github.com/ajitpratap0/mcp-widget-server/pkg/transport"
)

// Observer instruments sessions and HTTP exchanges with spans and metrics.
// A nil tracer disables spans; a nil metrics provider records nothing.
type Observer struct {
	tracer  *TracingProvider
	metrics MetricsProvider
}

// NewObserver creates an observer
func NewObserver(tracer *TracingProvider, metrics MetricsProvider) *Observer {
	if metrics == nil {
		metrics = NewNoopMetricsProvider()
	}
	return &Observer{tracer: tracer, metrics: metrics}
}

// Metrics returns the metrics provider
func (o *Observer) Metrics() MetricsProvider {
	return o.metrics
}

// Tracer returns the tracing provider, or nil when tracing is off
func (o *Observer) Tracer() *TracingProvider {
	return o.tracer
}

// StartSpan starts a span when tracing is on. The returned span is never nil.
func (o *Observer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if o.tracer == nil {
		return ctx, trace.SpanFromContext(context.Background())
	}
	return o.tracer.StartSpan(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span, if any, and ends it
func EndSpan(span trace.Span, err error) {
	if err != nil && span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Wrap instruments every handler registered on t
func (o *Observer) Wrap(t transport.Transport) transport.Transport {
	return &observabilityTransport{Transport: t, observer: o}
}

type observabilityTransport struct {
	transport.Transport
	observer *Observer
}

func (ot *observabilityTransport) RegisterRequestHandler(method string, handler transport.RequestHandler) {
	o := ot.observer
	ot.Transport.RegisterRequestHandler(method, func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var span trace.Span
		if o.tracer != nil {
			ctx, span = o.tracer.StartMethodSpan(ctx, method, trace.SpanKindServer,
				attribute.String("rpc.system", "jsonrpc"),
				attribute.String("mcp.session.id", ot.ID()),
			)
			defer func() {
				if r := recover(); r != nil {
					EndSpan(span, fmt.Errorf("panic: %v", r))
					panic(r)
				}
			}()
		}

		start := time.Now()
		result, err := handler(ctx, params)
		duration := time.Since(start)

		status := StatusSuccess
		if err != nil {
			status = StatusError
			o.metrics.RecordError(ctx, getErrorType(err), method)
		}
		o.metrics.RecordRequest(ctx, method, status, duration)

		if span != nil {
			span.SetAttributes(attribute.Float64("rpc.duration_ms", milliseconds(duration)))
			if mcpErr, ok := mcperrors.AsMCPError(err); ok {
				span.SetAttributes(attribute.Int("rpc.jsonrpc.error_code", mcpErr.Code()))
			}
			EndSpan(span, err)
		}
		return result, err
	})
}

func (ot *observabilityTransport) RegisterNotificationHandler(method string, handler transport.NotificationHandler) {
	o := ot.observer
	ot.Transport.RegisterNotificationHandler(method, func(ctx context.Context, params json.RawMessage) error {
		err := handler(ctx, params)
		status := StatusSuccess
		if err != nil {
			status = StatusError
		}
		o.metrics.RecordNotification(ctx, method, status)
		return err
	})
}

// HTTPMiddleware starts a server span per request, continuing any incoming
// trace context, and records the request duration by route pattern.
func (o *Observer) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var span trace.Span
		if o.tracer != nil {
			ctx = o.tracer.Extract(ctx, propagation.HeaderCarrier(r.Header))
			ctx, span = o.tracer.StartSpan(ctx, "HTTP "+r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.method", r.Method),
					attribute.String("http.target", r.URL.Path),
				),
			)
			r = r.WithContext(ctx)
		}

		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		defer func() {
			route := routePattern(r)
			o.metrics.RecordHTTPRequest(ctx, route, r.Method, rw.status, time.Since(start))
			if span != nil {
				span.SetName("HTTP " + r.Method + " " + route)
				span.SetAttributes(
					attribute.String("http.route", route),
					attribute.Int("http.status_code", rw.status),
				)
				if rw.status >= http.StatusInternalServerError {
					span.SetStatus(codes.Error, http.StatusText(rw.status))
				}
				span.End()
			}
		}()

		next.ServeHTTP(rw, r)
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.wroteHeader {
		sr.status = code
		sr.wroteHeader = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	sr.wroteHeader = true
	return sr.ResponseWriter.Write(b)
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// getErrorType categorizes errors for metrics
func getErrorType(err error) string {
	if err == nil {
		return ""
	}
	return string(mcperrors.ConvertStandardError(err).Category())
}
