// Package observability provides metrics and tracing for the widget server
package observability

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// ExporterType names a span exporter
type ExporterType string

const (
	ExporterTypeOTLPGRPC ExporterType = "otlp-grpc"
	ExporterTypeOTLPHTTP ExporterType = "otlp-http"
	// ExporterTypeNoop records spans but exports nothing
	ExporterTypeNoop ExporterType = "noop"
)

// ParseExporterType validates an exporter name. The empty name means noop.
func ParseExporterType(name string) (ExporterType, error) {
	switch t := ExporterType(name); t {
	case "":
		return ExporterTypeNoop, nil
	case ExporterTypeOTLPGRPC, ExporterTypeOTLPHTTP, ExporterTypeNoop:
		return t, nil
	default:
		return "", fmt.Errorf("unsupported exporter type: %s", name)
	}
}

// TracingConfig configures OpenTelemetry tracing
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string

	ExporterType ExporterType
	// Endpoint is the OTLP collector address; empty uses the exporter default
	Endpoint string
	Insecure bool
	// Exporter overrides ExporterType when set
	Exporter sdktrace.SpanExporter

	// SampleRate is the fraction of root spans kept; 0 means 1
	SampleRate float64
	// QuietMethods are JSON-RPC methods whose spans are never sampled
	QuietMethods []string
}

// TracingProvider owns the tracer provider and its exporter
type TracingProvider struct {
	serviceName string
	provider    *sdktrace.TracerProvider
	tracer      trace.Tracer
	propagator  propagation.TextMapPropagator

	mu       sync.Mutex
	shutdown func(context.Context) error
}

// NewTracingProvider creates a tracing provider and installs it as the
// global tracer provider and propagator.
func NewTracingProvider(cfg TracingConfig) (*TracingProvider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "mcp-widget-server"
	}
	if cfg.ServiceVersion == "" {
		cfg.ServiceVersion = "unknown"
	}
	if cfg.SampleRate <= 0 || cfg.SampleRate > 1 {
		cfg.SampleRate = 1
	}

	exporter := cfg.Exporter
	if exporter == nil {
		var err error
		if exporter, err = newExporter(cfg); err != nil {
			return nil, fmt.Errorf("failed to create exporter: %w", err)
		}
	}

	quiet := make(map[string]struct{}, len(cfg.QuietMethods))
	for _, m := range cfg.QuietMethods {
		quiet[m] = struct{}{}
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		)),
		sdktrace.WithSampler(&methodSampler{
			quiet: quiet,
			ratio: sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate)),
		}),
	)
	propagator := propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagator)

	return &TracingProvider{
		serviceName: cfg.ServiceName,
		provider:    tp,
		tracer:      tp.Tracer("github.com/ajitpratap0/mcp-widget-server"),
		propagator:  propagator,
		shutdown:    tp.Shutdown,
	}, nil
}

func newExporter(cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.ExporterType {
	case ExporterTypeOTLPGRPC:
		var opts []otlptracegrpc.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
	case ExporterTypeOTLPHTTP:
		var opts []otlptracehttp.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptrace.New(context.Background(), otlptracehttp.NewClient(opts...))
	case ExporterTypeNoop, "":
		return discardExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", cfg.ExporterType)
	}
}

// StartSpan starts a span with the given name and options
func (tp *TracingProvider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return tp.tracer.Start(ctx, name, opts...)
}

// StartMethodSpan starts a span named "mcp.<method>" for a JSON-RPC method
func (tp *TracingProvider) StartMethodSpan(ctx context.Context, method string, kind trace.SpanKind, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String(methodKey, method),
		attribute.String("mcp.service", tp.serviceName),
	)
	return tp.tracer.Start(ctx, "mcp."+method, trace.WithSpanKind(kind), trace.WithAttributes(attrs...))
}

// Extract continues a trace carried by an incoming request
func (tp *TracingProvider) Extract(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return tp.propagator.Extract(ctx, carrier)
}

// ForceFlush exports all finished spans
func (tp *TracingProvider) ForceFlush(ctx context.Context) error {
	return tp.provider.ForceFlush(ctx)
}

// Shutdown flushes and stops the provider. Later calls do nothing.
func (tp *TracingProvider) Shutdown(ctx context.Context) error {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	if tp.shutdown == nil {
		return nil
	}
	err := tp.shutdown(ctx)
	tp.shutdown = nil
	return err
}

const methodKey = "mcp.method"

// methodSampler drops spans of quiet methods, even under a sampled parent,
// and defers to ratio for everything else
type methodSampler struct {
	quiet map[string]struct{}
	ratio sdktrace.Sampler
}

func (s *methodSampler) ShouldSample(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	for _, attr := range p.Attributes {
		if attr.Key != methodKey {
			continue
		}
		if _, ok := s.quiet[attr.Value.AsString()]; ok {
			return sdktrace.SamplingResult{Decision: sdktrace.Drop}
		}
		break
	}
	return s.ratio.ShouldSample(p)
}

func (s *methodSampler) Description() string {
	return fmt.Sprintf("MethodSampler{quiet=%d,%s}", len(s.quiet), s.ratio.Description())
}

type discardExporter struct{}

func (discardExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error { return nil }
func (discardExporter) Shutdown(context.Context) error                             { return nil }
