// Package observability wires the OpenTelemetry SDK for oteldemo.
//
// This package implements:
// - Trace, metric and log providers with OTLP, console or no export
// - A Prometheus scrape endpoint fed by the same meter provider
// - RED (Rate, Errors, Duration) request metrics
// - Span, counter and logging helpers used by the request pipeline
package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials"
)

// ScopeName is the instrumentation scope for every tracer, meter and logger
// created by oteldemo.
const ScopeName = "github.com/Mindburn-Labs/oteldemo"

// Exporter selects where telemetry is sent.
type Exporter string

const (
	ExporterOTLP   Exporter = "otlp"   // OTLP/gRPC collector
	ExporterStdout Exporter = "stdout" // pretty-printed to ConsoleWriter
	ExporterNone   Exporter = "none"   // SDK active, nothing exported
)

// Valid reports whether e is a known exporter.
func (e Exporter) Valid() bool {
	switch e {
	case ExporterOTLP, ExporterStdout, ExporterNone:
		return true
	}
	return false
}

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName      string
	ServiceNamespace string
	ServiceVersion   string
	InstanceID       string // defaults to the hostname
	Environment      string
	Exporter         Exporter
	OTLPEndpoint     string        // e.g., "localhost:4317" for gRPC
	Insecure         bool          // Use insecure connection (dev only)
	CAFile           string        // PEM roots for the collector's certificate
	SampleRate       float64       // 0.0 to 1.0
	BatchTimeout     time.Duration // How long to wait before sending batched spans
	MetricInterval   time.Duration
	Prometheus       bool      // Serve a Prometheus scrape endpoint
	Enabled          bool      // Enable/disable telemetry
	ConsoleWriter    io.Writer // ExporterStdout destination, os.Stdout when nil
}

// DefaultConfig returns development defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:      "oteldemo",
		ServiceNamespace: "demo",
		ServiceVersion:   "1.0.0",
		Environment:      "development",
		Exporter:         ExporterOTLP,
		OTLPEndpoint:     "localhost:4317",
		Insecure:         true,
		SampleRate:       1.0,
		BatchTimeout:     5 * time.Second,
		MetricInterval:   15 * time.Second,
		Prometheus:       true,
		Enabled:          true,
	}
}

// Provider manages the OpenTelemetry trace, metric and log providers.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	loggerProvider *sdklog.LoggerProvider
	registry       *prometheus.Registry
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	// RED metrics (Rate, Errors, Duration)
	requestCounter metric.Int64Counter
	errorCounter   metric.Int64Counter
	durationHist   metric.Float64Histogram
	activeRequests metric.Int64UpDownCounter
}

// New creates a provider and installs it as the global OpenTelemetry provider.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	if !config.Enabled {
		p.logger.InfoContext(ctx, "observability disabled")
		return p, nil
	}
	if !config.Exporter.Valid() {
		return nil, fmt.Errorf("unknown exporter %q", config.Exporter)
	}

	res, err := p.newResource(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init metric provider: %w", err)
	}
	if err := p.initLoggerProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init logger provider: %w", err)
	}

	p.tracer = p.tracerProvider.Tracer(ScopeName,
		trace.WithInstrumentationVersion(config.ServiceVersion),
	)
	p.meter = p.meterProvider.Meter(ScopeName,
		metric.WithInstrumentationVersion(config.ServiceVersion),
	)

	if err := p.initREDMetrics(); err != nil {
		return nil, fmt.Errorf("failed to init RED metrics: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"exporter", string(config.Exporter),
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
		"prometheus", config.Prometheus,
	)

	return p, nil
}

func (p *Provider) newResource(ctx context.Context) (*resource.Resource, error) {
	instanceID := p.config.InstanceID
	if instanceID == "" {
		instanceID, _ = os.Hostname()
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName(p.config.ServiceName),
			semconv.ServiceNamespace(p.config.ServiceNamespace),
			semconv.ServiceVersion(p.config.ServiceVersion),
			semconv.ServiceInstanceID(instanceID),
			semconv.DeploymentEnvironment(p.config.Environment),
		),
	)
	if errors.Is(err, resource.ErrPartialResource) {
		p.logger.WarnContext(ctx, "partial resource detected", "error", err)
		err = nil
	}
	return res, err
}

func (p *Provider) consoleWriter() io.Writer {
	if p.config.ConsoleWriter != nil {
		return p.config.ConsoleWriter
	}
	return os.Stdout
}

func (p *Provider) tlsCredentials() (credentials.TransportCredentials, error) {
	if p.config.CAFile == "" {
		return nil, nil
	}
	creds, err := credentials.NewClientTLSFromFile(p.config.CAFile, "")
	if err != nil {
		return nil, fmt.Errorf("failed to load CA file %s: %w", p.config.CAFile, err)
	}
	return creds, nil
}

func (p *Provider) sampler() sdktrace.Sampler {
	switch {
	case p.config.SampleRate >= 1.0:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case p.config.SampleRate <= 0.0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(p.config.SampleRate))
	}
}

// initTraceProvider initializes the OpenTelemetry trace provider.
func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(p.sampler()),
	}

	var exporter sdktrace.SpanExporter
	switch p.config.Exporter {
	case ExporterOTLP:
		grpcOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint)}
		if p.config.Insecure {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithInsecure())
		} else if creds, err := p.tlsCredentials(); err != nil {
			return err
		} else if creds != nil {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithTLSCredentials(creds))
		}
		exp, err := otlptracegrpc.New(ctx, grpcOpts...)
		if err != nil {
			return fmt.Errorf("failed to create trace exporter: %w", err)
		}
		exporter = exp
	case ExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithWriter(p.consoleWriter()))
		if err != nil {
			return fmt.Errorf("failed to create stdout trace exporter: %w", err)
		}
		exporter = exp
	}

	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(p.config.BatchTimeout),
		))
	}

	p.tracerProvider = sdktrace.NewTracerProvider(opts...)

	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return nil
}

// initMetricProvider initializes the OpenTelemetry metric provider.
func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	switch p.config.Exporter {
	case ExporterOTLP:
		grpcOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint)}
		if p.config.Insecure {
			grpcOpts = append(grpcOpts, otlpmetricgrpc.WithInsecure())
		} else if creds, err := p.tlsCredentials(); err != nil {
			return err
		} else if creds != nil {
			grpcOpts = append(grpcOpts, otlpmetricgrpc.WithTLSCredentials(creds))
		}
		exp, err := otlpmetricgrpc.New(ctx, grpcOpts...)
		if err != nil {
			return fmt.Errorf("failed to create metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp,
			sdkmetric.WithInterval(p.config.MetricInterval),
		)))
	case ExporterStdout:
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(p.consoleWriter()))
		if err != nil {
			return fmt.Errorf("failed to create stdout metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp,
			sdkmetric.WithInterval(p.config.MetricInterval),
		)))
	}

	if p.config.Prometheus {
		p.registry = prometheus.NewRegistry()
		exp, err := otelprom.New(otelprom.WithRegisterer(p.registry))
		if err != nil {
			return fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(exp))
	}

	p.meterProvider = sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(p.meterProvider)

	return nil
}

// initLoggerProvider initializes the OpenTelemetry logger provider that the
// slog bridge writes into.
func (p *Provider) initLoggerProvider(ctx context.Context, res *resource.Resource) error {
	opts := []sdklog.LoggerProviderOption{sdklog.WithResource(res)}

	var exporter sdklog.Exporter
	switch p.config.Exporter {
	case ExporterOTLP:
		grpcOpts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(p.config.OTLPEndpoint)}
		if p.config.Insecure {
			grpcOpts = append(grpcOpts, otlploggrpc.WithInsecure())
		} else if creds, err := p.tlsCredentials(); err != nil {
			return err
		} else if creds != nil {
			grpcOpts = append(grpcOpts, otlploggrpc.WithTLSCredentials(creds))
		}
		exp, err := otlploggrpc.New(ctx, grpcOpts...)
		if err != nil {
			return fmt.Errorf("failed to create log exporter: %w", err)
		}
		exporter = exp
	case ExporterStdout:
		exp, err := stdoutlog.New(stdoutlog.WithWriter(p.consoleWriter()))
		if err != nil {
			return fmt.Errorf("failed to create stdout log exporter: %w", err)
		}
		exporter = exp
	}

	if exporter != nil {
		opts = append(opts, sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)))
	}

	p.loggerProvider = sdklog.NewLoggerProvider(opts...)
	global.SetLoggerProvider(p.loggerProvider)

	return nil
}

// initREDMetrics initializes Rate, Errors, Duration metrics.
func (p *Provider) initREDMetrics() error {
	var err error

	p.requestCounter, err = p.meter.Int64Counter("oteldemo.requests.total",
		metric.WithDescription("Total number of requests processed"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	p.errorCounter, err = p.meter.Int64Counter("oteldemo.errors.total",
		metric.WithDescription("Total number of failed requests"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return err
	}

	p.durationHist, err = p.meter.Float64Histogram("oteldemo.request.duration",
		metric.WithDescription("Request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return err
	}

	p.activeRequests, err = p.meter.Int64UpDownCounter("oteldemo.requests.active",
		metric.WithDescription("Number of requests in flight"),
		metric.WithUnit("{request}"),
	)
	return err
}

// Shutdown flushes and stops every provider. All providers are shut down even
// if one fails; the errors are joined.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown trace provider", "error", err)
			errs = append(errs, err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown metric provider", "error", err)
			errs = append(errs, err)
		}
	}
	if p.loggerProvider != nil {
		if err := p.loggerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown logger provider", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Tracer returns the configured tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer(ScopeName)
	}
	return p.tracer
}

// Meter returns the configured meter.
func (p *Provider) Meter() metric.Meter {
	if p.meter == nil {
		return otel.Meter(ScopeName)
	}
	return p.meter
}

// TracerProvider returns the SDK tracer provider, or the global one when
// telemetry is disabled.
func (p *Provider) TracerProvider() trace.TracerProvider {
	if p.tracerProvider == nil {
		return otel.GetTracerProvider()
	}
	return p.tracerProvider
}

// MeterProvider returns the SDK meter provider, or the global one when
// telemetry is disabled.
func (p *Provider) MeterProvider() metric.MeterProvider {
	if p.meterProvider == nil {
		return otel.GetMeterProvider()
	}
	return p.meterProvider
}

// LoggerProvider returns the SDK logger provider, or the global one when
// telemetry is disabled.
func (p *Provider) LoggerProvider() otellog.LoggerProvider {
	if p.loggerProvider == nil {
		return global.GetLoggerProvider()
	}
	return p.loggerProvider
}

// MetricsHandler serves the Prometheus scrape endpoint. It responds 404 when
// the Prometheus reader is not configured.
func (p *Provider) MetricsHandler() http.Handler {
	if p.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// RecordRequest records a request with the given attributes.
func (p *Provider) RecordRequest(ctx context.Context, attrs ...attribute.KeyValue) {
	if p.requestCounter != nil {
		p.requestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordError records an error with the given attributes.
func (p *Provider) RecordError(ctx context.Context, err error, attrs ...attribute.KeyValue) {
	if p.errorCounter != nil {
		allAttrs := append(attrs, attribute.String("error.type", fmt.Sprintf("%T", err)))
		p.errorCounter.Add(ctx, 1, metric.WithAttributes(allAttrs...))
	}
}

// RecordDuration records the duration of a request.
func (p *Provider) RecordDuration(ctx context.Context, duration time.Duration, attrs ...attribute.KeyValue) {
	if p.durationHist != nil {
		p.durationHist.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	}
}

// TrackRequest records RED metrics for a request from start to finish.
// Returns a function that must be called when the request completes.
func (p *Provider) TrackRequest(ctx context.Context, attrs ...attribute.KeyValue) func(error) {
	start := time.Now()

	if p.activeRequests != nil {
		p.activeRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	p.RecordRequest(ctx, attrs...)

	return func(err error) {
		if p.activeRequests != nil {
			p.activeRequests.Add(ctx, -1, metric.WithAttributes(attrs...))
		}
		p.RecordDuration(ctx, time.Since(start), attrs...)
		if err != nil {
			p.RecordError(ctx, err, attrs...)
		}
	}
}
