package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Session outcomes recorded by RecordSessionClosed
const (
	SessionCompleted    = "completed"
	SessionClientClosed = "client_closed"
)

// Status labels
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// MetricsConfig configures the metrics provider
type MetricsConfig struct {
	// Service identification
	ServiceName    string
	ServiceVersion string

	// Metric options
	Namespace        string    // Prometheus namespace (default: mcp)
	Subsystem        string    // Prometheus subsystem
	HistogramBuckets []float64 // Custom histogram buckets for latency

	// Labels to add to all metrics
	ConstLabels prometheus.Labels

	// DisableRuntimeCollectors skips the Go and process collectors
	DisableRuntimeCollectors bool
}

// MetricsProvider records server metrics
type MetricsProvider interface {
	// JSON-RPC methods handled by sessions
	RecordRequest(ctx context.Context, method, status string, duration time.Duration)
	RecordNotification(ctx context.Context, method, status string)

	// Capability operations
	RecordToolCall(ctx context.Context, tool, status string, duration time.Duration)
	RecordResourceOperation(ctx context.Context, operation, resource, status string, duration time.Duration)

	// Session lifecycle
	RecordSessionOpened(ctx context.Context)
	RecordSessionClosed(ctx context.Context, outcome string, duration time.Duration)

	// HTTP surface
	RecordHTTPRequest(ctx context.Context, route, method string, code int, duration time.Duration)

	// Tunnel state: one of "disabled", "connected", "failed", "closed"
	RecordTunnelState(ctx context.Context, state string)

	RecordError(ctx context.Context, errType, method string)

	// Handler serves the metrics in the Prometheus exposition format
	Handler() http.Handler
}

// PrometheusMetricsProvider implements MetricsProvider on its own registry so
// several servers can coexist in one process (and in tests).
type PrometheusMetricsProvider struct {
	config   MetricsConfig
	registry *prometheus.Registry

	requestDuration   *prometheus.HistogramVec
	requestTotal      *prometheus.CounterVec
	notificationTotal *prometheus.CounterVec

	toolCallDuration          *prometheus.HistogramVec
	toolCallTotal             *prometheus.CounterVec
	resourceOperationDuration *prometheus.HistogramVec

	sessionsActive  prometheus.Gauge
	sessionsTotal   *prometheus.CounterVec
	sessionDuration *prometheus.HistogramVec
	httpDuration    *prometheus.HistogramVec
	tunnelState     *prometheus.GaugeVec
	errorTotal      *prometheus.CounterVec
}

var tunnelStates = []string{"disabled", "connected", "failed", "closed"}

// NewMetricsProvider creates a new Prometheus metrics provider
func NewMetricsProvider(config MetricsConfig) (*PrometheusMetricsProvider, error) {
	if config.Namespace == "" {
		config.Namespace = "mcp"
	}
	if config.HistogramBuckets == nil {
		// Default buckets for milliseconds
		config.HistogramBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}
	}

	constLabels := prometheus.Labels{}
	for k, v := range config.ConstLabels {
		constLabels[k] = v
	}
	if config.ServiceName != "" {
		constLabels["service"] = config.ServiceName
	}
	if config.ServiceVersion != "" {
		constLabels["version"] = config.ServiceVersion
	}
	config.ConstLabels = constLabels

	p := &PrometheusMetricsProvider{
		config:   config,
		registry: prometheus.NewRegistry(),
	}
	p.initializeMetrics()

	if err := p.registerMetrics(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *PrometheusMetricsProvider) histogram(name, help string, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   p.config.Namespace,
			Subsystem:   p.config.Subsystem,
			Name:        name,
			Help:        help,
			Buckets:     p.config.HistogramBuckets,
			ConstLabels: p.config.ConstLabels,
		},
		labels,
	)
}

func (p *PrometheusMetricsProvider) counter(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   p.config.Namespace,
			Subsystem:   p.config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: p.config.ConstLabels,
		},
		labels,
	)
}

// initializeMetrics creates all metric collectors
func (p *PrometheusMetricsProvider) initializeMetrics() {
	p.requestDuration = p.histogram("request_duration_milliseconds",
		"Duration of JSON-RPC requests in milliseconds", "method", "status")
	p.requestTotal = p.counter("request_total",
		"Total number of JSON-RPC requests", "method", "status")
	p.notificationTotal = p.counter("notification_total",
		"Total number of JSON-RPC notifications", "method", "status")

	p.toolCallDuration = p.histogram("tool_call_duration_milliseconds",
		"Duration of tool calls in milliseconds", "tool", "status")
	p.toolCallTotal = p.counter("tool_call_total",
		"Total number of tool calls", "tool", "status")
	p.resourceOperationDuration = p.histogram("resource_operation_duration_milliseconds",
		"Duration of resource operations in milliseconds", "operation", "resource", "status")

	p.sessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   p.config.Namespace,
		Subsystem:   p.config.Subsystem,
		Name:        "sessions_active",
		Help:        "Number of sessions currently open",
		ConstLabels: p.config.ConstLabels,
	})
	p.sessionsTotal = p.counter("sessions_total",
		"Total number of closed sessions by outcome", "outcome")
	p.sessionDuration = p.histogram("session_duration_milliseconds",
		"Lifetime of sessions in milliseconds", "outcome")

	p.httpDuration = p.histogram("http_request_duration_milliseconds",
		"Duration of HTTP requests in milliseconds", "route", "method", "code")

	p.tunnelState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   p.config.Namespace,
		Subsystem:   p.config.Subsystem,
		Name:        "tunnel_state",
		Help:        "Current tunnel state (1 for the active state, 0 otherwise)",
		ConstLabels: p.config.ConstLabels,
	}, []string{"state"})

	p.errorTotal = p.counter("error_total", "Total number of errors", "type", "method")
}

func (p *PrometheusMetricsProvider) registerMetrics() error {
	all := []prometheus.Collector{
		p.requestDuration,
		p.requestTotal,
		p.notificationTotal,
		p.toolCallDuration,
		p.toolCallTotal,
		p.resourceOperationDuration,
		p.sessionsActive,
		p.sessionsTotal,
		p.sessionDuration,
		p.httpDuration,
		p.tunnelState,
		p.errorTotal,
	}
	if !p.config.DisableRuntimeCollectors {
		all = append(all,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	for _, collector := range all {
		if err := p.registry.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// RecordRequest records a handled JSON-RPC request
func (p *PrometheusMetricsProvider) RecordRequest(ctx context.Context, method, status string, duration time.Duration) {
	p.requestDuration.WithLabelValues(method, status).Observe(milliseconds(duration))
	p.requestTotal.WithLabelValues(method, status).Inc()
}

// RecordNotification records a handled JSON-RPC notification
func (p *PrometheusMetricsProvider) RecordNotification(ctx context.Context, method, status string) {
	p.notificationTotal.WithLabelValues(method, status).Inc()
}

// RecordToolCall records a tool invocation
func (p *PrometheusMetricsProvider) RecordToolCall(ctx context.Context, tool, status string, duration time.Duration) {
	p.toolCallDuration.WithLabelValues(tool, status).Observe(milliseconds(duration))
	p.toolCallTotal.WithLabelValues(tool, status).Inc()
}

// RecordResourceOperation records a resource list or read
func (p *PrometheusMetricsProvider) RecordResourceOperation(ctx context.Context, operation, resource, status string, duration time.Duration) {
	p.resourceOperationDuration.WithLabelValues(operation, resource, status).Observe(milliseconds(duration))
}

// RecordSessionOpened increments the active session gauge
func (p *PrometheusMetricsProvider) RecordSessionOpened(ctx context.Context) {
	p.sessionsActive.Inc()
}

// RecordSessionClosed decrements the active session gauge and counts the outcome
func (p *PrometheusMetricsProvider) RecordSessionClosed(ctx context.Context, outcome string, duration time.Duration) {
	p.sessionsActive.Dec()
	p.sessionsTotal.WithLabelValues(outcome).Inc()
	p.sessionDuration.WithLabelValues(outcome).Observe(milliseconds(duration))
}

// RecordHTTPRequest records an HTTP exchange
func (p *PrometheusMetricsProvider) RecordHTTPRequest(ctx context.Context, route, method string, code int, duration time.Duration) {
	p.httpDuration.WithLabelValues(route, method, strconv.Itoa(code)).Observe(milliseconds(duration))
}

// RecordTunnelState marks state as the active tunnel state
func (p *PrometheusMetricsProvider) RecordTunnelState(ctx context.Context, state string) {
	for _, s := range tunnelStates {
		p.tunnelState.WithLabelValues(s).Set(0)
	}
	p.tunnelState.WithLabelValues(state).Set(1)
}

// RecordError counts an error by type
func (p *PrometheusMetricsProvider) RecordError(ctx context.Context, errType, method string) {
	p.errorTotal.WithLabelValues(errType, method).Inc()
}

// Handler serves the provider's registry
func (p *PrometheusMetricsProvider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// Registry returns the underlying Prometheus registry
func (p *PrometheusMetricsProvider) Registry() *prometheus.Registry {
	return p.registry
}

// NoopMetricsProvider discards all measurements
type NoopMetricsProvider struct{}

// NewNoopMetricsProvider returns a provider that records nothing
func NewNoopMetricsProvider() MetricsProvider {
	return NoopMetricsProvider{}
}

func (NoopMetricsProvider) RecordRequest(context.Context, string, string, time.Duration) {}

func (NoopMetricsProvider) RecordNotification(context.Context, string, string) {}

func (NoopMetricsProvider) RecordToolCall(context.Context, string, string, time.Duration) {}

func (NoopMetricsProvider) RecordResourceOperation(context.Context, string, string, string, time.Duration) {
}

func (NoopMetricsProvider) RecordSessionOpened(context.Context) {}

func (NoopMetricsProvider) RecordSessionClosed(context.Context, string, time.Duration) {}

func (NoopMetricsProvider) RecordHTTPRequest(context.Context, string, string, int, time.Duration) {}

func (NoopMetricsProvider) RecordTunnelState(context.Context, string) {}

func (NoopMetricsProvider) RecordError(context.Context, string, string) {}

// Handler answers 404 since nothing is collected
func (NoopMetricsProvider) Handler() http.Handler {
	return http.NotFoundHandler()
}
