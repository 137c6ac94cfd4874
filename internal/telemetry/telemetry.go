// Package telemetry wires OpenTelemetry tracing and an slog bridge (§4.M).
// Spans are purely observational: ConnectionSpan starts a span tagged
// with a connection's channel and session id; no state-transition events
// are recorded on it, and nothing on the event-loop hot path waits on
// exporting spans.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/reactorlink/reactorlink"

// Telemetry bundles the tracer and a logger bridged through otelslog so
// log records carry trace/span ids when emitted inside a span.
type Telemetry struct {
	provider *sdktrace.TracerProvider
	Tracer   trace.Tracer
	Logger   *slog.Logger
}

// Setup builds an OTLP-over-gRPC exporter pointed at endpoint (empty
// disables export, leaving a no-op provider) and an slog.Logger bridged to
// it via otelslog.
func Setup(ctx context.Context, endpoint, serviceName string) (*Telemetry, error) {
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("telemetry: building resource: %w", err)
	}

	var opts []sdktrace.TracerProviderOption
	opts = append(opts, sdktrace.WithResource(res))

	if endpoint != "" {
		client := otlptracegrpc.NewClient(otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
		exporter, err := otlptrace.New(ctx, client)
		if err != nil {
			return nil, fmt.Errorf("telemetry: building otlp exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)

	return &Telemetry{
		provider: provider,
		Tracer:   provider.Tracer(instrumentationName),
		Logger:   slog.New(otelslog.NewHandler(instrumentationName)),
	}, nil
}

func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// ConnectionSpan starts a span covering one Connection's lifecycle,
// tagged with its channel and session id.
func (t *Telemetry) ConnectionSpan(ctx context.Context, channel string, sessionID int32) (context.Context, trace.Span) {
	return t.Tracer.Start(ctx, "reactorlink.connection",
		trace.WithAttributes(
			attribute.String("channel", channel),
			attribute.Int("session_id", int(sessionID)),
		))
}
