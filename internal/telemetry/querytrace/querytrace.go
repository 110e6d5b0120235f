// Package querytrace spans parts of a single FIND's lifecycle: one node's
// handling of the FIND (local hit, miss, or forwarding a QUERY) and each
// forwarded hop. The REPLY/MISS resolution back at the originator has no
// span of its own.
// Unlike the teacher's lookuptrace, there is no gRPC metadata to carry
// span context between nodes — the ring protocol is raw TCP frames — so
// each node only traces its own local slice of the query instead of one
// end-to-end distributed span (see DESIGN.md).
package querytrace

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"imgdht/internal/identifier"
)

const tracerName = "imgdht/querytrace"

var tracer = otel.Tracer(tracerName)

// StartLocalFind opens a span covering one node's handling of a FIND for
// objID, closed by the returned func.
func StartLocalFind(ctx context.Context, objID identifier.ID, name string) (context.Context, func(outcome string)) {
	ctx, span := tracer.Start(ctx, "find",
		trace.WithAttributes(
			attribute.Int("dht.object.id", int(objID)),
			attribute.String("dht.object.name", name),
		),
	)
	return ctx, func(outcome string) {
		span.SetAttributes(attribute.String("dht.find.outcome", outcome))
		span.End()
	}
}

// StartForward opens a span covering a forwarded hop to next.
func StartForward(ctx context.Context, next identifier.ID) (context.Context, func()) {
	ctx, span := tracer.Start(ctx, "forward",
		trace.WithAttributes(attribute.Int("dht.next.id", int(next))),
	)
	return ctx, span.End
}
