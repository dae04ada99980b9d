// Package eventbus defines the port interface for lifecycle event publishing.
package eventbus

import "context"

// Subjects published by the coordinator. Delivery is best-effort: a failed
// publish is logged and never fails the operation that triggered it.
const (
	SubjectAgentRegistered     = "a2a.agent.registered"
	SubjectAgentUnregistered   = "a2a.agent.unregistered"
	SubjectCapabilitiesUpdated = "a2a.agent.capabilities_updated"
)

// Publisher is the port interface for emitting agent lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Handler consumes one event. A non-nil error requeues the event when the
// backing bus supports redelivery.
type Handler func(subject string, data []byte) error

// Subscriber is the port interface for consuming lifecycle events, e.g. by a
// registry that mirrors agent state. The returned stop function cancels the
// subscription.
type Subscriber interface {
	Subscribe(ctx context.Context, subject string, handler Handler) (func(), error)
}
