// Package telemetry provides OpenTelemetry-based tracing and metrics for
// sanctionswatch, adapted from the teacher's observability.Provider: a
// single Provider wraps a tracer and a meter, exposes a TrackStage
// helper that spans+times an arbitrary block, and additionally exposes
// domain counters (change events by risk level, runs by terminal status)
// the pipeline stages in pkg/orchestrator report into.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	SampleRate     float64
	BatchTimeout   time.Duration
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns sensible defaults for local/dev use.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "sanctionswatch",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        true,
		Insecure:       true,
	}
}

// Provider manages the OpenTelemetry trace and metric providers plus the
// domain-specific counters the orchestrator reports into.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	runCounter      metric.Int64Counter
	errorCounter    metric.Int64Counter
	durationHist    metric.Float64Histogram
	changeEventCtr  metric.Int64Counter
	activeRunsGauge metric.Int64UpDownCounter
}

// New creates a Provider. If cfg.Enabled is false, it returns a no-op
// Provider whose methods are safe to call but do nothing.
func New(ctx context.Context, cfg *Config) (*Provider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	p := &Provider{config: cfg, logger: slog.Default().With("component", "telemetry")}
	if !cfg.Enabled {
		p.logger.InfoContext(ctx, "telemetry disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("init metric provider: %w", err)
	}

	p.tracer = otel.Tracer("sanctionswatch", trace.WithInstrumentationVersion(cfg.ServiceVersion))
	p.meter = otel.Meter("sanctionswatch", metric.WithInstrumentationVersion(cfg.ServiceVersion))

	if err := p.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	p.logger.InfoContext(ctx, "telemetry initialized", "endpoint", cfg.OTLPEndpoint, "sample_rate", cfg.SampleRate)
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(p.config.BatchTimeout)),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initMetrics() error {
	var err error

	p.runCounter, err = p.meter.Int64Counter("sanctionswatch.runs.total",
		metric.WithDescription("Total number of scraper runs started"), metric.WithUnit("{run}"))
	if err != nil {
		return err
	}
	p.errorCounter, err = p.meter.Int64Counter("sanctionswatch.errors.total",
		metric.WithDescription("Total number of run errors"), metric.WithUnit("{error}"))
	if err != nil {
		return err
	}
	p.durationHist, err = p.meter.Float64Histogram("sanctionswatch.run.duration",
		metric.WithDescription("Scraper run duration in seconds"), metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 5, 15, 30, 60, 120, 300, 600))
	if err != nil {
		return err
	}
	p.changeEventCtr, err = p.meter.Int64Counter("sanctionswatch.change_events.total",
		metric.WithDescription("Total number of change events detected, by risk level"), metric.WithUnit("{event}"))
	if err != nil {
		return err
	}
	p.activeRunsGauge, err = p.meter.Int64UpDownCounter("sanctionswatch.runs.active",
		metric.WithDescription("Number of currently running scraper runs"), metric.WithUnit("{run}"))
	if err != nil {
		return err
	}
	return nil
}

// Shutdown flushes and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "shutdown trace provider failed", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "shutdown metric provider failed", "error", err)
		}
	}
	return nil
}

func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer("sanctionswatch")
	}
	return p.tracer
}

// StartSpan starts a span for one pipeline stage (spec §4.G: FETCH, PARSE,
// DIFF, CLASSIFY, PERSIST, NOTIFY).
func (p *Provider) StartSpan(ctx context.Context, stage string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, stage, trace.WithSpanKind(trace.SpanKindInternal), trace.WithAttributes(attrs...))
}

// RecordRunStart increments the active-runs gauge and the run counter.
func (p *Provider) RecordRunStart(ctx context.Context, source string) {
	attrs := metric.WithAttributes(attribute.String("source", source))
	if p.runCounter != nil {
		p.runCounter.Add(ctx, 1, attrs)
	}
	if p.activeRunsGauge != nil {
		p.activeRunsGauge.Add(ctx, 1, attrs)
	}
}

// RecordRunEnd decrements the active-runs gauge and records duration/status.
func (p *Provider) RecordRunEnd(ctx context.Context, source, status string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("source", source), attribute.String("status", status))
	if p.activeRunsGauge != nil {
		p.activeRunsGauge.Add(ctx, -1, metric.WithAttributes(attribute.String("source", source)))
	}
	if p.durationHist != nil {
		p.durationHist.Record(ctx, duration.Seconds(), attrs)
	}
}

// RecordError increments the error counter, tagged with the failing stage.
func (p *Provider) RecordError(ctx context.Context, source, stage string, err error) {
	if p.errorCounter != nil {
		p.errorCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("source", source),
			attribute.String("stage", stage),
			attribute.String("error.type", fmt.Sprintf("%T", err)),
		))
	}
}

// RecordChangeEvents adds count change events of the given risk level.
func (p *Provider) RecordChangeEvents(ctx context.Context, source, riskLevel string, count int) {
	if p.changeEventCtr != nil && count > 0 {
		p.changeEventCtr.Add(ctx, int64(count), metric.WithAttributes(
			attribute.String("source", source),
			attribute.String("risk_level", riskLevel),
		))
	}
}

// TrackStage spans and times one pipeline stage, recording an error metric
// if the returned cleanup is invoked with a non-nil error.
func (p *Provider) TrackStage(ctx context.Context, source, stage string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := p.StartSpan(ctx, stage, attribute.String("source", source))

	return ctx, func(err error) {
		span.RecordError(err)
		if err != nil {
			p.RecordError(ctx, source, stage, err)
		}
		_ = time.Since(start)
		span.End()
	}
}
