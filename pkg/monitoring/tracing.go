/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: tracing.go
Description: OpenTelemetry tracing setup for the Akaylee Scanner. Exports the plugin invocation
spans created by the consumers to an OTLP/gRPC collector through a batching tracer provider.
*/

package monitoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ServiceName identifies the scanner in traces
const ServiceName = "akaylee-scanner"

// TracingOptions configures the OTLP exporter
type TracingOptions struct {
	Endpoint        string            // host:port of the collector
	Insecure        bool              // Plain gRPC without TLS
	Headers         map[string]string // Extra exporter headers
	ServiceVersion  string
	SampleRatio     float64 // 0 or 1 samples everything
	ShutdownTimeout time.Duration
}

// Tracing owns the tracer provider of a scan
type Tracing struct {
	provider *sdktrace.TracerProvider
	timeout  time.Duration
}

// SetupTracing creates the OTLP exporter and installs the global tracer provider
func SetupTracing(ctx context.Context, opts TracingOptions) (*Tracing, error) {
	if opts.Endpoint == "" {
		return nil, errors.New("otel endpoint is required")
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	if opts.ServiceVersion == "" {
		opts.ServiceVersion = "1.0.0"
	}

	exporterOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(opts.Endpoint)}
	if opts.Insecure {
		exporterOpts = append(exporterOpts,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	if len(opts.Headers) > 0 {
		exporterOpts = append(exporterOpts, otlptracegrpc.WithHeaders(opts.Headers))
	}

	exporter, err := otlptracegrpc.New(ctx, exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	return newTracing(sdktrace.WithBatcher(exporter), opts), nil
}

// newTracing builds the provider around a span processor option
func newTracing(processor sdktrace.TracerProviderOption, opts TracingOptions) *Tracing {
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(ServiceName),
		semconv.ServiceVersion(opts.ServiceVersion),
		attribute.String("service.component", "scanner"),
	)

	sampler := sdktrace.AlwaysSample()
	if opts.SampleRatio > 0 && opts.SampleRatio < 1 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(opts.SampleRatio))
	}

	provider := sdktrace.NewTracerProvider(
		processor,
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(provider)
	return &Tracing{provider: provider, timeout: opts.ShutdownTimeout}
}

// Tracer returns a tracer from the provider
func (t *Tracing) Tracer(name string) trace.Tracer {
	return t.provider.Tracer(name)
}

// Shutdown flushes pending spans and stops the exporter
func (t *Tracing) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()
	if err := t.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown tracer provider: %w", err)
	}
	return nil
}
