package a2a

import (
	"errors"
	"slices"
)

// ErrUnsupportedAuth is returned when an agent card asks for an auth scheme
// other than bearer or api_key.
var ErrUnsupportedAuth = errors.New("unsupported auth scheme")

// Supported AuthInfo types.
const (
	AuthBearer = "bearer"
	AuthAPIKey = "api_key"
)

// AgentCard is an agent's discoverable identity: who it is, how to reach it,
// and what it can do. Discovery holds copies of cards; the advertising agent
// owns the authoritative instance.
type AgentCard struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	Version      string         `json:"version"`
	Connection   ConnectionInfo `json:"connection"`
	Capabilities []Capability   `json:"capabilities"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// ConnectionInfo describes how to reach an agent's A2A endpoint.
type ConnectionInfo struct {
	BaseURL   string    `json:"base_url"`
	Protocols []string  `json:"protocols,omitempty"`
	Auth      *AuthInfo `json:"auth,omitempty"`
}

// AuthInfo carries the credentials a caller must present to the agent.
type AuthInfo struct {
	Type        string            `json:"auth_type"`
	Credentials map[string]string `json:"credentials"`
}

// Capability is a named, taggable unit of functionality an agent advertises.
type Capability struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Description       string   `json:"description"`
	InputSchema       any      `json:"input_schema,omitempty"`
	OutputSchema      any      `json:"output_schema,omitempty"`
	SupportsStreaming bool     `json:"supports_streaming,omitempty"`
	Tags              []string `json:"tags,omitempty"`
}

// NewAgentCard builds a card with the required identity fields.
func NewAgentCard(id, name, version, baseURL string) AgentCard {
	return AgentCard{
		ID:      id,
		Name:    name,
		Version: version,
		Connection: ConnectionInfo{
			BaseURL:   baseURL,
			Protocols: []string{"http", "https"},
		},
	}
}

// HasCapability reports whether the card advertises the given capability id.
func (c *AgentCard) HasCapability(capabilityID string) bool {
	return c.Capability(capabilityID) != nil
}

// Capability returns the advertised capability with the given id, or nil.
func (c *AgentCard) Capability(capabilityID string) *Capability {
	for i := range c.Capabilities {
		if c.Capabilities[i].ID == capabilityID {
			return &c.Capabilities[i]
		}
	}
	return nil
}

// CapabilitiesByTag returns all capabilities carrying the given tag.
func (c *AgentCard) CapabilitiesByTag(tag string) []Capability {
	var out []Capability
	for _, cap := range c.Capabilities {
		if slices.Contains(cap.Tags, tag) {
			out = append(out, cap)
		}
	}
	return out
}
