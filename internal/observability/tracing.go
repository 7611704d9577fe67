// Package observability sets up logging, OpenTelemetry tracing and Prometheus
// metrics for the document pipeline.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TracerName is the instrumentation scope of all docintel spans.
	TracerName = "github.com/efebarandurmaz/docintel"
)

// TracingConfig configures the OpenTelemetry tracing.
type TracingConfig struct {
	// ServiceName is the name of the service (default: "docintel")
	ServiceName string

	// ServiceVersion is the version of the service
	ServiceVersion string

	// Environment is the deployment environment (dev, staging, prod)
	Environment string

	// OTLPEndpoint is the OTLP gRPC endpoint (e.g., "localhost:4317")
	// If empty, tracing is disabled.
	OTLPEndpoint string

	// Insecure disables TLS towards the collector.
	Insecure bool

	// SampleRate is the trace sampling rate (0.0 to 1.0, default: 1.0)
	SampleRate float64
}

// DefaultTracingConfig returns a default tracing configuration.
func DefaultTracingConfig() *TracingConfig {
	return &TracingConfig{
		ServiceName:    "docintel",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		Insecure:       true,
		SampleRate:     1.0,
	}
}

// TracerProvider wraps the OpenTelemetry tracer provider.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// InitTracing initializes OpenTelemetry tracing.
// Returns a no-op tracer if OTLPEndpoint is empty.
func InitTracing(ctx context.Context, cfg *TracingConfig) (*TracerProvider, error) {
	if cfg == nil {
		cfg = DefaultTracingConfig()
	}

	if cfg.OTLPEndpoint == "" {
		return &TracerProvider{
			tracer: otel.Tracer(TracerName),
		}, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
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
		return nil, fmt.Errorf("create resource: %w", err)
	}

	sampler := sdktrace.ParentBased(sampleBy(cfg.SampleRate))

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{
		provider: provider,
		tracer:   provider.Tracer(TracerName),
	}, nil
}

// Shutdown flushes pending spans and stops the exporter.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp != nil && tp.provider != nil {
		return tp.provider.Shutdown(ctx)
	}
	return nil
}

// Tracer returns the underlying tracer.
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

func sampleBy(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// Span names for pipeline operations.
const (
	SpanIngest  = "ingest.document"
	SpanSearch  = "search.query"
	SpanSimilar = "search.similar"
)

// Pipeline stages, used as span names and metric labels.
const (
	StageExtract   = "extract"
	StageFields    = "fields"
	StageEmbed     = "embed"
	StageIndex     = "index"
	StageMirror    = "mirror"
	StageGraph     = "graph"
	StageCallback  = "callback"
	StageSummarize = "summarize"
)

func tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// StartIngestSpan starts the root span of one document ingestion.
func StartIngestSpan(ctx context.Context, documentID, jobID string) (context.Context, trace.Span) {
	return tracer().Start(ctx, SpanIngest,
		trace.WithAttributes(
			attribute.String("document.id", documentID),
			attribute.String("job.id", jobID),
		),
	)
}

// StartStageSpan starts a child span for one pipeline stage.
func StartStageSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "ingest."+stage, trace.WithAttributes(attribute.String("stage", stage)))
}

// RecordIngestResult annotates the ingestion span with its outcome.
func RecordIngestResult(span trace.Span, success bool, state string, slot int, contentLength int) {
	span.SetAttributes(
		attribute.Bool("ingest.success", success),
		attribute.String("ingest.state", state),
		attribute.Int("index.slot", slot),
		attribute.Int("document.content_length", contentLength),
	)
	if !success {
		span.SetStatus(codes.Error, state)
	}
}

// StartSearchSpan starts a span for a query or similar-document lookup.
func StartSearchSpan(ctx context.Context, name string, topK int) (context.Context, trace.Span) {
	return tracer().Start(ctx, name, trace.WithAttributes(attribute.Int("search.top_k", topK)))
}

// RecordSearchResult records how many results a search returned.
func RecordSearchResult(span trace.Span, results int) {
	span.SetAttributes(attribute.Int("search.results", results))
}

// RecordError records an error on a span.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
