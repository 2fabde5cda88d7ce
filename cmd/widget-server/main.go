// Command widget-server serves the hello world widget over MCP
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/mcp-widget-server/internal/widget"
	"github.com/ajitpratap0/mcp-widget-server/pkg/config"
	"github.com/ajitpratap0/mcp-widget-server/pkg/lifecycle"
	"github.com/ajitpratap0/mcp-widget-server/pkg/logging"
	"github.com/ajitpratap0/mcp-widget-server/pkg/observability"
	"github.com/ajitpratap0/mcp-widget-server/pkg/registry"
	"github.com/ajitpratap0/mcp-widget-server/pkg/server"
	"github.com/ajitpratap0/mcp-widget-server/pkg/tunnel"
)

// errReported marks failures that have already been logged
var errReported = errors.New("reported")

func main() {
	if err := newRootCommand(os.Stdout, os.LookupEnv).Execute(); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCommand(out io.Writer, lookup config.LookupFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "widget-server",
		Short:         "MCP server exposing the hello world widget",
		Version:       server.DefaultVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := cmd.Flags().GetString(config.FlagConfig)
			if err != nil {
				return err
			}
			cfg, err := config.Load(path, lookup)
			if err != nil {
				return err
			}
			if err := cfg.ApplyFlags(cmd.Flags()); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return run(cmd.Context(), cfg, out)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func run(ctx context.Context, cfg config.Config, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger, err := logging.NewWithConfig(out, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	logger = logger.WithFields(logging.String("service", server.DefaultName))

	bundle, err := widget.NewBundleLoader(widget.BundleConfig{
		Path:        cfg.BundlePath,
		NumCounters: cfg.Cache.NumCounters,
		MaxCost:     cfg.Cache.MaxCost,
		TTL:         cfg.Cache.TTL,
	})
	if err != nil {
		return err
	}
	if err := bundle.Check(ctx); err != nil {
		bundle.Close()
		logger.WithError(err).Error(widget.MissingBundleMessage(bundle.Path()))
		return errReported
	}

	observer, shutdownTracing, err := newObserver(cfg)
	if err != nil {
		bundle.Close()
		return err
	}

	builder := registry.NewBuilder()
	if err := widget.NewHello(bundle, nil).Register(builder); err != nil {
		bundle.Close()
		return err
	}

	srv := server.New(
		server.WithRegistry(builder.Freeze()),
		server.WithLogger(logger),
		server.WithObserver(observer),
	)
	handler := server.NewHTTPHandler(srv,
		server.WithMaxBodyBytes(cfg.MaxBodyBytes),
		server.WithHTTPLogger(logger),
		server.WithSessionMetrics(observer.Metrics()),
	)
	router := server.NewRouter(handler, observer, logger, server.RouterConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimitRPS:   cfg.RateLimit.RequestsPerSecond,
		RateLimitBurst: cfg.RateLimit.Burst,
		MetricsEnabled: cfg.Metrics.Enabled,
	})

	opts := []lifecycle.Option{
		lifecycle.WithLogger(logger),
		lifecycle.WithMetrics(observer.Metrics()),
		lifecycle.WithShutdownHook("tracing", shutdownTracing),
		lifecycle.WithShutdownHook("bundle-cache", func(context.Context) error {
			bundle.Close()
			return nil
		}),
	}
	if cfg.Ngrok.Enabled {
		opts = append(opts, lifecycle.WithTunnel(tunnel.NewNgrokOpener(cfg.TunnelToken(), logger)))
	}
	controller := lifecycle.New(lifecycle.Config{
		Port:            cfg.Port,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, router, opts...)

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	if err := controller.Run(ctx, signals); err != nil {
		logger.WithError(err).Error("MCP server stopped with an error")
		// Hooks do not run when Start fails; both calls are idempotent
		_ = shutdownTracing(context.Background())
		bundle.Close()
		return errReported
	}
	return nil
}

// newObserver builds metrics and, unless the exporter is noop, tracing
func newObserver(cfg config.Config) (*observability.Observer, func(context.Context) error, error) {
	var metrics observability.MetricsProvider = observability.NewNoopMetricsProvider()
	if cfg.Metrics.Enabled {
		m, err := observability.NewMetricsProvider(observability.MetricsConfig{
			ServiceName:    server.DefaultName,
			ServiceVersion: server.DefaultVersion,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create metrics: %w", err)
		}
		metrics = m
	}

	exporter, err := observability.ParseExporterType(cfg.Tracing.Exporter)
	if err != nil {
		return nil, nil, err
	}
	noShutdown := func(context.Context) error { return nil }
	if exporter == observability.ExporterTypeNoop {
		return observability.NewObserver(nil, metrics), noShutdown, nil
	}

	tracer, err := observability.NewTracingProvider(observability.TracingConfig{
		ServiceName:    server.DefaultName,
		ServiceVersion: server.DefaultVersion,
		ExporterType:   exporter,
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		SampleRate:     cfg.Tracing.SampleRate,
		QuietMethods:   []string{"ping"},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create tracing: %w", err)
	}
	return observability.NewObserver(tracer, metrics), tracer.Shutdown, nil
}
