package otelx

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Carried is the W3C trace context of a unit of work in a form that survives a
// database round trip. The zero value carries nothing.
type Carried struct {
	Parent string
	State  string
}

// Capture snapshots the active span of ctx.
func Capture(ctx context.Context) Carried {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return Carried{Parent: carrier["traceparent"], State: carrier["tracestate"]}
}

func (c Carried) Empty() bool { return c.Parent == "" }

// Resume returns ctx continuing the captured trace, or ctx itself when nothing was captured.
func (c Carried) Resume(ctx context.Context) context.Context {
	if c.Empty() {
		return ctx
	}
	carrier := propagation.MapCarrier{"traceparent": c.Parent}
	if c.State != "" {
		carrier["tracestate"] = c.State
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
