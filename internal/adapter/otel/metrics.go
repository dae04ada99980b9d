package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "agentmesh"

// Metrics holds all agentmesh metric instruments. A nil *Metrics is valid and
// records nothing, so tests can construct services without a meter provider.
type Metrics struct {
	discoveryRequests metric.Int64Counter
	cacheHits         metric.Int64Counter
	cacheMisses       metric.Int64Counter
	cacheEvictions    metric.Int64Counter
	invocations       metric.Int64Counter
	invocationErrors  metric.Int64Counter
	streamSessions    metric.Int64Counter
	openConnections   metric.Int64UpDownCounter
	invokeDuration    metric.Float64Histogram
}

// NewMetrics creates all metric instruments against the global meter.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	if m.discoveryRequests, err = meter.Int64Counter("agentmesh.discovery.requests",
		metric.WithDescription("Discovery endpoint queries issued")); err != nil {
		return nil, err
	}
	if m.cacheHits, err = meter.Int64Counter("agentmesh.discovery.cache_hits",
		metric.WithDescription("Agent card cache hits")); err != nil {
		return nil, err
	}
	if m.cacheMisses, err = meter.Int64Counter("agentmesh.discovery.cache_misses",
		metric.WithDescription("Agent card cache misses")); err != nil {
		return nil, err
	}
	if m.cacheEvictions, err = meter.Int64Counter("agentmesh.discovery.cache_evictions",
		metric.WithDescription("Agent card cache entries evicted")); err != nil {
		return nil, err
	}
	if m.invocations, err = meter.Int64Counter("agentmesh.invocations",
		metric.WithDescription("Capability invocations sent")); err != nil {
		return nil, err
	}
	if m.invocationErrors, err = meter.Int64Counter("agentmesh.invocation_errors",
		metric.WithDescription("Capability invocations that returned an error")); err != nil {
		return nil, err
	}
	if m.streamSessions, err = meter.Int64Counter("agentmesh.stream_sessions",
		metric.WithDescription("Streaming sessions opened")); err != nil {
		return nil, err
	}
	if m.openConnections, err = meter.Int64UpDownCounter("agentmesh.ws.open_connections",
		metric.WithDescription("Open WebSocket connections")); err != nil {
		return nil, err
	}
	if m.invokeDuration, err = meter.Float64Histogram("agentmesh.invoke.duration_seconds",
		metric.WithDescription("Synchronous invocation duration in seconds")); err != nil {
		return nil, err
	}

	return m, nil
}

// AddDiscoveryRequest counts one query against a discovery endpoint.
func (m *Metrics) AddDiscoveryRequest(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.discoveryRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("a2a.endpoint", endpoint)))
}

// AddCacheHit counts a valid agent-card cache read.
func (m *Metrics) AddCacheHit(ctx context.Context) {
	if m == nil {
		return
	}
	m.cacheHits.Add(ctx, 1)
}

// AddCacheMiss counts an absent or expired agent-card cache read.
func (m *Metrics) AddCacheMiss(ctx context.Context) {
	if m == nil {
		return
	}
	m.cacheMisses.Add(ctx, 1)
}

// AddCacheEvictions counts entries removed by the cache sweep.
func (m *Metrics) AddCacheEvictions(ctx context.Context, n int64) {
	if m == nil || n == 0 {
		return
	}
	m.cacheEvictions.Add(ctx, n)
}

// AddInvocation counts a capability invocation attempt.
func (m *Metrics) AddInvocation(ctx context.Context, targetAgentID string) {
	if m == nil {
		return
	}
	m.invocations.Add(ctx, 1, metric.WithAttributes(attribute.String("a2a.target_agent", targetAgentID)))
}

// AddInvocationError counts a failed capability invocation.
func (m *Metrics) AddInvocationError(ctx context.Context, targetAgentID string) {
	if m == nil {
		return
	}
	m.invocationErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("a2a.target_agent", targetAgentID)))
}

// AddStreamSession counts an opened streaming session.
func (m *Metrics) AddStreamSession(ctx context.Context) {
	if m == nil {
		return
	}
	m.streamSessions.Add(ctx, 1)
}

// AddConn adjusts the open-connection gauge.
func (m *Metrics) AddConn(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.openConnections.Add(ctx, delta)
}

// RecordInvokeDuration records a synchronous invocation duration.
func (m *Metrics) RecordInvokeDuration(ctx context.Context, seconds float64) {
	if m == nil {
		return
	}
	m.invokeDuration.Record(ctx, seconds)
}
