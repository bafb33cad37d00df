// Package telemetry installs the OpenTelemetry tracer provider.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/roach88/tenantcore/internal/config"
)

// Shutdown flushes pending spans.
type Shutdown func(context.Context) error

// Setup initialises tracing from cfg.
//
// Tracing is opt-in: when cfg.Enabled is false or no endpoint is set, Setup
// returns a no-op shutdown and registers nothing, so spans go to the global
// no-op provider. Otherwise spans are batched to the OTLP/HTTP endpoint and
// the provider is registered globally.
func Setup(ctx context.Context, cfg config.TelemetryConfig) (Shutdown, error) {
	noop := func(context.Context) error { return nil }

	if !cfg.Enabled || cfg.Endpoint == "" {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.Endpoint))
	if err != nil {
		return noop, fmt.Errorf("create trace exporter: %w", err)
	}

	name := cfg.ServiceName
	if name == "" {
		name = "tenantcore"
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(name)))
	if err != nil {
		return noop, fmt.Errorf("create trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp.Shutdown, nil
}
