// Package telemetry wires an optional OpenTelemetry trace pipeline for
// the node engine's query lifecycle. Only the stdout exporter is wired:
// spec.md's single-threaded ring has no gRPC transport to carry span
// context between hops, so the otlp/jaeger gRPC-backed exporters the
// teacher supports have nothing to attach to here (see DESIGN.md).
//
// Grounded on KoordeDHT/internal/telemetry/init.go, trimmed to the one
// exporter this module can exercise.
package telemetry

import (
	"context"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"imgdht/internal/config"
	"imgdht/internal/identifier"
)

// Init installs a global TracerProvider per cfg. When tracing is
// disabled it installs a no-op shutdown and returns immediately. The
// returned function must be called on process exit to flush pending
// spans.
func Init(cfg config.TelemetryConfig, serviceName string, nodeID identifier.ID) func(context.Context) error {
	if !cfg.Tracing.Enabled {
		return func(context.Context) error { return nil }
	}
	if cfg.Tracing.Exporter != "stdout" {
		log.Fatalf("telemetry: unsupported exporter %q (only stdout is wired)", cfg.Tracing.Exporter)
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(
		semconv.ServiceNameKey.String(serviceName),
		attribute.Int("dht.node.id", int(nodeID)),
	))
	if err != nil {
		log.Fatalf("telemetry: building resource: %v", err)
	}

	exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		log.Fatalf("telemetry: stdout exporter: %v", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp), sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)

	return tp.Shutdown
}
