// Package config loads the widget server configuration. Values are layered
// in order: defaults, an optional YAML file, environment variables and
// finally command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/mcp-widget-server/internal/widget"
	"github.com/ajitpratap0/mcp-widget-server/pkg/logging"
	"github.com/ajitpratap0/mcp-widget-server/pkg/observability"
)

// Defaults
const (
	DefaultPort            = 10086
	DefaultShutdownTimeout = 10 * time.Second
	DefaultMaxBodyBytes    = 5 << 20
)

// Config is the complete server configuration
type Config struct {
	Port            int           `yaml:"port"`
	BundlePath      string        `yaml:"bundle_path"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`

	Ngrok     NgrokConfig     `yaml:"ngrok"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Cache     CacheConfig     `yaml:"cache"`
}

// NgrokConfig controls the public tunnel
type NgrokConfig struct {
	Enabled   bool   `yaml:"enabled"`
	AuthToken string `yaml:"auth_token"`
}

// LogConfig selects the log level and output format
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the /metrics route
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig selects the span exporter
type TracingConfig struct {
	Exporter   string  `yaml:"exporter"`
	Endpoint   string  `yaml:"endpoint"`
	Insecure   bool    `yaml:"insecure"`
	SampleRate float64 `yaml:"sample_rate"`
}

// RateLimitConfig limits /mcp traffic. A zero rate disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// CacheConfig sizes the component bundle cache
type CacheConfig struct {
	NumCounters int64         `yaml:"num_counters"`
	MaxCost     int64         `yaml:"max_cost"`
	TTL         time.Duration `yaml:"ttl"`
}

// Default returns the configuration used when nothing is overridden
func Default() Config {
	return Config{
		Port:            DefaultPort,
		BundlePath:      widget.DefaultBundlePath,
		ShutdownTimeout: DefaultShutdownTimeout,
		MaxBodyBytes:    DefaultMaxBodyBytes,
		AllowedOrigins:  []string{"*"},
		Ngrok:           NgrokConfig{Enabled: true},
		Log:             LogConfig{Level: "info", Format: "text"},
		Metrics:         MetricsConfig{Enabled: true},
		Tracing:         TracingConfig{Exporter: string(observability.ExporterTypeNoop), SampleRate: 1.0},
		Cache:           CacheConfig{NumCounters: 1000, MaxCost: 64 << 20},
	}
}

// LookupFunc reads an environment variable
type LookupFunc func(key string) (string, bool)

// Load builds the configuration from defaults, the YAML file at path (if
// any) and the environment as seen through lookup. A nil lookup reads the
// process environment.
func Load(path string, lookup LookupFunc) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup LookupFunc) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %q is not an integer", key, v))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %q is not a number", key, v))
				return
			}
			*dst = f
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %q is not a boolean", key, v))
				return
			}
			*dst = b
		}
	}

	integer("PORT", &c.Port)
	str("BUNDLE_PATH", &c.BundlePath)
	// Anything but "false" keeps the tunnel on
	if v, ok := lookup("ENABLE_NGROK"); ok {
		c.Ngrok.Enabled = !strings.EqualFold(strings.TrimSpace(v), "false")
	}
	str("NGROK_AUTHTOKEN", &c.Ngrok.AuthToken)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	boolean("METRICS_ENABLED", &c.Metrics.Enabled)
	str("TRACING_EXPORTER", &c.Tracing.Exporter)
	str("TRACING_ENDPOINT", &c.Tracing.Endpoint)
	float("RATE_LIMIT_RPS", &c.RateLimit.RequestsPerSecond)
	integer("RATE_LIMIT_BURST", &c.RateLimit.Burst)
	if v, ok := lookup("SHUTDOWN_TIMEOUT"); ok {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("SHUTDOWN_TIMEOUT: %w", err))
		} else {
			c.ShutdownTimeout = d
		}
	}
	if v, ok := lookup("ALLOWED_ORIGINS"); ok {
		c.AllowedOrigins = splitList(v)
	}
	return errors.Join(errs...)
}

// Flag names
const (
	FlagConfig          = "config"
	FlagPort            = "port"
	FlagBundle          = "bundle"
	FlagNgrok           = "ngrok"
	FlagLogLevel        = "log-level"
	FlagLogFormat       = "log-format"
	FlagMetrics         = "metrics"
	FlagTracingExporter = "tracing-exporter"
	FlagTracingEndpoint = "tracing-endpoint"
	FlagRateLimit       = "rate-limit"
	FlagRateBurst       = "rate-burst"
	FlagShutdownTimeout = "shutdown-timeout"
	FlagAllowedOrigins  = "allowed-origins"
)

// RegisterFlags defines the command-line overrides on fs
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String(FlagConfig, "", "path to a YAML configuration file")
	fs.Int(FlagPort, d.Port, "port to listen on (0 picks a free port)")
	fs.String(FlagBundle, d.BundlePath, "path to the compiled component bundle")
	fs.Bool(FlagNgrok, d.Ngrok.Enabled, "expose the server through an ngrok tunnel")
	fs.String(FlagLogLevel, d.Log.Level, "log level: debug, info, warn, error")
	fs.String(FlagLogFormat, d.Log.Format, "log format: text, console, json")
	fs.Bool(FlagMetrics, d.Metrics.Enabled, "serve Prometheus metrics on /metrics")
	fs.String(FlagTracingExporter, d.Tracing.Exporter, "trace exporter: noop, otlp-grpc, otlp-http")
	fs.String(FlagTracingEndpoint, d.Tracing.Endpoint, "OTLP collector endpoint")
	fs.Float64(FlagRateLimit, d.RateLimit.RequestsPerSecond, "requests per second allowed on /mcp (0 disables)")
	fs.Int(FlagRateBurst, d.RateLimit.Burst, "burst size for the /mcp rate limit")
	fs.Duration(FlagShutdownTimeout, d.ShutdownTimeout, "grace period for in-flight requests on shutdown")
	fs.StringSlice(FlagAllowedOrigins, d.AllowedOrigins, "CORS origins allowed to call /mcp")
}

// ApplyFlags overrides c with the flags explicitly set on fs
func (c *Config) ApplyFlags(fs *pflag.FlagSet) error {
	var err error
	set := func(name string, apply func() error) {
		if err != nil || !fs.Changed(name) {
			return
		}
		if e := apply(); e != nil {
			err = fmt.Errorf("flag --%s: %w", name, e)
		}
	}

	set(FlagPort, func() (e error) { c.Port, e = fs.GetInt(FlagPort); return })
	set(FlagBundle, func() (e error) { c.BundlePath, e = fs.GetString(FlagBundle); return })
	set(FlagNgrok, func() (e error) { c.Ngrok.Enabled, e = fs.GetBool(FlagNgrok); return })
	set(FlagLogLevel, func() (e error) { c.Log.Level, e = fs.GetString(FlagLogLevel); return })
	set(FlagLogFormat, func() (e error) { c.Log.Format, e = fs.GetString(FlagLogFormat); return })
	set(FlagMetrics, func() (e error) { c.Metrics.Enabled, e = fs.GetBool(FlagMetrics); return })
	set(FlagTracingExporter, func() (e error) { c.Tracing.Exporter, e = fs.GetString(FlagTracingExporter); return })
	set(FlagTracingEndpoint, func() (e error) { c.Tracing.Endpoint, e = fs.GetString(FlagTracingEndpoint); return })
	set(FlagRateLimit, func() (e error) { c.RateLimit.RequestsPerSecond, e = fs.GetFloat64(FlagRateLimit); return })
	set(FlagRateBurst, func() (e error) { c.RateLimit.Burst, e = fs.GetInt(FlagRateBurst); return })
	set(FlagShutdownTimeout, func() (e error) { c.ShutdownTimeout, e = fs.GetDuration(FlagShutdownTimeout); return })
	set(FlagAllowedOrigins, func() (e error) { c.AllowedOrigins, e = fs.GetStringSlice(FlagAllowedOrigins); return })
	return err
}

// Validate reports every invalid setting
func (c Config) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range 0-65535", c.Port))
	}
	if strings.TrimSpace(c.BundlePath) == "" {
		errs = append(errs, errors.New("bundle path is required"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("shutdown timeout must be positive, got %s", c.ShutdownTimeout))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("max body bytes must be positive, got %d", c.MaxBodyBytes))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if _, err := logging.NewFormatter(c.Log.Format); err != nil {
		errs = append(errs, err)
	}
	if _, err := observability.ParseExporterType(c.Tracing.Exporter); err != nil {
		errs = append(errs, err)
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("tracing sample rate %v out of range 0-1", c.Tracing.SampleRate))
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("rate limit must not be negative, got %v", c.RateLimit.RequestsPerSecond))
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst < 1 {
		errs = append(errs, errors.New("rate limit burst must be at least 1 when a rate is set"))
	}
	if c.Cache.TTL < 0 {
		errs = append(errs, fmt.Errorf("cache ttl must not be negative, got %s", c.Cache.TTL))
	}
	return errors.Join(errs...)
}

// TunnelToken returns the trimmed ngrok credential
func (c Config) TunnelToken() string {
	return strings.TrimSpace(c.Ngrok.AuthToken)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
