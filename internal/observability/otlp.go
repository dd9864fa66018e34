package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// otlpShutdownTimeout bounds the final flush on shutdown.
const otlpShutdownTimeout = 5 * time.Second

// OTLPExporter pushes metrics and traces to an OTLP gRPC collector. It runs
// alongside the Prometheus scrape endpoint, not instead of it.
type OTLPExporter struct {
	meterProvider *sdkmetric.MeterProvider
	traceProvider *sdktrace.TracerProvider
}

// NewOTLPExporter connects metric and trace exporters to endpoint and
// installs the tracer provider as the global one.
func NewOTLPExporter(ctx context.Context, endpoint string) (*OTLPExporter, error) {
	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("create otlp trace exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)))
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter))

	otel.SetTracerProvider(traceProvider)

	return &OTLPExporter{meterProvider: meterProvider, traceProvider: traceProvider}, nil
}

// Tracer returns a tracer for the given instrumentation scope.
func (e *OTLPExporter) Tracer(name string) trace.Tracer {
	return e.traceProvider.Tracer(name)
}

// Shutdown flushes and stops both providers.
func (e *OTLPExporter) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, otlpShutdownTimeout)
	defer cancel()

	err := e.meterProvider.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("shutdown otlp meter provider: %w", err)
	}

	err = e.traceProvider.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("shutdown otlp trace provider: %w", err)
	}

	return nil
}
