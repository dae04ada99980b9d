package a2a

import "encoding/json"

// Request is the capability invocation payload carried in the params of an
// invoke_capability envelope.
type Request struct {
	CapabilityID string          `json:"capability_id"`
	Input        json.RawMessage `json:"input"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
	Streaming    bool            `json:"streaming,omitempty"`
}

// Response is the capability invocation result carried in the result of an
// invoke_capability response envelope. Partial marks an intermediate frame
// within a streaming session.
type Response struct {
	Output   json.RawMessage `json:"output"`
	Metadata map[string]any  `json:"metadata,omitempty"`
	Partial  bool            `json:"partial,omitempty"`
}

// DiscoveryRequest filters the agents a discovery endpoint returns. AgentID
// requests an exact id match; Query is free-text for registries that only
// understand keyword search. Capabilities must ALL be present on a matching
// agent; Tags match when ANY capability carries ANY listed tag.
type DiscoveryRequest struct {
	AgentID      string   `json:"agent_id,omitempty"`
	Query        string   `json:"query,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Limit        int      `json:"limit,omitempty"`
}

// DiscoveryResponse is a discovery endpoint's answer.
type DiscoveryResponse struct {
	Agents    []AgentCard `json:"agents"`
	Total     *int        `json:"total,omitempty"`
	NextToken string      `json:"next_token,omitempty"`
}
