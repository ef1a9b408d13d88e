// Package telemetry configures OpenTelemetry tracing for curatord.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// Config selects the exporter and sampling for the tracer provider.
type Config struct {
	ServiceName string
	// OTLPEndpoint is a collector host:port. Empty keeps spans in process.
	OTLPEndpoint string
	Insecure     bool
	// SampleRatio in (0, 1) samples that fraction of root traces; any other value samples all.
	SampleRatio float64
}

// Setup builds the OTLP batch processor when cfg names an endpoint and installs
// the global tracer provider.
func Setup(ctx context.Context, cfg Config, extra ...sdktrace.SpanProcessor) (*sdktrace.TracerProvider, error) {
	processors := append([]sdktrace.SpanProcessor(nil), extra...)
	if cfg.OTLPEndpoint != "" {
		p, err := NewOTLPProcessor(ctx, cfg.OTLPEndpoint, cfg.Insecure)
		if err != nil {
			return nil, err
		}
		processors = append(processors, p)
	}
	return InitTracerProvider(ctx, cfg.ServiceName, sampler(cfg.SampleRatio), processors...)
}

// NewOTLPProcessor batches spans to an OTLP/gRPC collector. The connection is
// established lazily on first export.
func NewOTLPProcessor(ctx context.Context, endpoint string, insecure bool) (sdktrace.SpanProcessor, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
	if insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp trace exporter: %w", err)
	}
	return sdktrace.NewBatchSpanProcessor(exp), nil
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio > 0 && ratio < 1 {
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
	return sdktrace.ParentBased(sdktrace.AlwaysSample())
}

// InitTracerProvider installs a global tracer provider and the W3C propagators.
// Run and seed spans are recorded against it, and published run summaries carry
// the trace context in their message attributes. Span processors (an
// exporter's batcher, a test recorder) are registered as given.
func InitTracerProvider(
	ctx context.Context,
	serviceName string,
	s sdktrace.Sampler,
	processors ...sdktrace.SpanProcessor,
) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if s != nil {
		opts = append(opts, sdktrace.WithSampler(s))
	}
	for _, p := range processors {
		opts = append(opts, sdktrace.WithSpanProcessor(p))
	}
	tp := sdktrace.NewTracerProvider(opts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp, nil
}
