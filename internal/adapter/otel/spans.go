package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "agentmesh"

// StartInvokeSpan starts a span for a capability invocation on a remote agent.
func StartInvokeSpan(ctx context.Context, targetAgentID, capabilityID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "a2a.invoke",
		trace.WithAttributes(
			attribute.String("a2a.target_agent", targetAgentID),
			attribute.String("a2a.capability", capabilityID),
		),
	)
}

// StartDiscoverSpan starts a span for a federated discovery query.
func StartDiscoverSpan(ctx context.Context, endpoints int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "a2a.discover",
		trace.WithAttributes(attribute.Int("a2a.endpoints", endpoints)),
	)
}

// StartStreamSpan starts a span covering a streaming session setup.
func StartStreamSpan(ctx context.Context, targetAgentID, capabilityID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "a2a.stream",
		trace.WithAttributes(
			attribute.String("a2a.target_agent", targetAgentID),
			attribute.String("a2a.capability", capabilityID),
		),
	)
}
