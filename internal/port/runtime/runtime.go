// Package runtime defines the boundary to the surrounding agent runtime: an
// opaque provider of capabilities and their execution. The protocol stack
// pulls its advertised capability list from a Provider and pushes inbound
// invocations back into it; it has no dependency on how capabilities run.
package runtime

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/loomworks/agentmesh/internal/a2a"
)

// ErrUnknownCapability is returned by providers when the capability id is not
// one they advertise. The inbound server maps it to the capability-not-found
// wire error.
var ErrUnknownCapability = errors.New("unknown capability")

// Provider executes capabilities on behalf of this agent.
type Provider interface {
	// Capabilities returns the list this agent currently advertises.
	Capabilities() []a2a.Capability

	// Execute runs a capability to completion and returns its output.
	Execute(ctx context.Context, capabilityID string, input json.RawMessage) (json.RawMessage, error)
}

// StreamingProvider is implemented by providers whose capabilities can emit
// incremental output. Each value received from the channel becomes a partial
// response frame; channel close ends the stream.
type StreamingProvider interface {
	Provider

	ExecuteStream(ctx context.Context, capabilityID string, input json.RawMessage) (<-chan json.RawMessage, error)
}
