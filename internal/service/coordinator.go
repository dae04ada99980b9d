// Package service wires the protocol layers together: the coordinator owns
// this agent's card, keeps its registration current, and routes outbound
// invocations through discovery and the communication manager.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loomworks/agentmesh/internal/a2a"
	"github.com/loomworks/agentmesh/internal/comms"
	"github.com/loomworks/agentmesh/internal/discovery"
	"github.com/loomworks/agentmesh/internal/port/eventbus"
	"github.com/loomworks/agentmesh/internal/port/runtime"
)

// ErrNotStreamable is returned when a stream is requested for a capability
// that does not advertise streaming support.
var ErrNotStreamable = errors.New("capability does not support streaming")

// Config identifies this agent on the mesh.
type Config struct {
	AgentID      string
	AgentName    string
	AgentVersion string
	Description  string
	// BaseURL is where other agents reach this agent's endpoints.
	BaseURL string
	// AutoRegister announces the agent to the discovery endpoints on startup
	// and withdraws it on shutdown.
	AutoRegister bool
}

// Deps are the coordinator's collaborators. Provider and Bus may be nil.
type Deps struct {
	Discovery *discovery.Service
	Comms     *comms.Manager
	Provider  runtime.Provider
	Bus       eventbus.Publisher
	Log       *slog.Logger
}

// Coordinator is the top-level protocol object an embedding runtime talks to.
// All methods are safe for concurrent use.
type Coordinator struct {
	cfg       Config
	discovery *discovery.Service
	comms     *comms.Manager
	provider  runtime.Provider
	bus       eventbus.Publisher
	log       *slog.Logger

	mu   sync.RWMutex
	card a2a.AgentCard
}

// New builds the coordinator, assembles this agent's card, and registers it
// with the configured discovery endpoints when AutoRegister is set.
func New(ctx context.Context, cfg Config, deps Deps) (*Coordinator, error) {
	if deps.Discovery == nil || deps.Comms == nil {
		return nil, fmt.Errorf("coordinator requires discovery and comms")
	}
	if cfg.AgentID == "" {
		cfg.AgentID = uuid.NewString()
	}
	if cfg.AgentName == "" {
		cfg.AgentName = cfg.AgentID
	}
	if cfg.AgentVersion == "" {
		cfg.AgentVersion = "0.0.0"
	}
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}

	card := a2a.NewAgentCard(cfg.AgentID, cfg.AgentName, cfg.AgentVersion, cfg.BaseURL)
	card.Description = cfg.Description
	if deps.Provider != nil {
		card.Capabilities = deps.Provider.Capabilities()
	}

	c := &Coordinator{
		cfg:       cfg,
		discovery: deps.Discovery,
		comms:     deps.Comms,
		provider:  deps.Provider,
		bus:       deps.Bus,
		log:       log,
		card:      card,
	}

	if cfg.AutoRegister {
		c.discovery.RegisterAgent(ctx, card)
		c.publish(ctx, eventbus.SubjectAgentRegistered)
		c.log.Info("agent registered", "agent", card.ID, "capabilities", len(card.Capabilities))
	}
	return c, nil
}

// Card returns a copy of this agent's current card.
func (c *Coordinator) Card() a2a.AgentCard {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.card
}

// AddCapability advertises one more capability, replacing any existing one
// with the same id, and refreshes the agent's registration.
func (c *Coordinator) AddCapability(ctx context.Context, capability a2a.Capability) {
	c.mu.Lock()
	replaced := false
	for i := range c.card.Capabilities {
		if c.card.Capabilities[i].ID == capability.ID {
			c.card.Capabilities[i] = capability
			replaced = true
			break
		}
	}
	if !replaced {
		c.card.Capabilities = append(c.card.Capabilities, capability)
	}
	card := c.card
	c.mu.Unlock()

	c.reannounce(ctx, card)
}

// UpdateCapabilities replaces the advertised capability list wholesale.
func (c *Coordinator) UpdateCapabilities(ctx context.Context, capabilities []a2a.Capability) {
	c.mu.Lock()
	c.card.Capabilities = capabilities
	card := c.card
	c.mu.Unlock()

	c.reannounce(ctx, card)
}

// SyncCapabilities re-reads the capability list from the runtime provider.
// No-op without a provider.
func (c *Coordinator) SyncCapabilities(ctx context.Context) {
	if c.provider == nil {
		return
	}
	c.UpdateCapabilities(ctx, c.provider.Capabilities())
}

func (c *Coordinator) reannounce(ctx context.Context, card a2a.AgentCard) {
	if c.cfg.AutoRegister {
		c.discovery.RegisterAgent(ctx, card)
	}
	c.publish(ctx, eventbus.SubjectCapabilitiesUpdated)
}

// Discover runs a federated discovery query.
func (c *Coordinator) Discover(ctx context.Context, req a2a.DiscoveryRequest) ([]a2a.AgentCard, error) {
	return c.discovery.DiscoverAgents(ctx, req)
}

// FindAgentsWithCapability returns agents advertising the given capability.
func (c *Coordinator) FindAgentsWithCapability(ctx context.Context, capabilityID string) ([]a2a.AgentCard, error) {
	return c.discovery.DiscoverAgents(ctx, a2a.DiscoveryRequest{Capabilities: []string{capabilityID}})
}

// InvokeCapability synchronously invokes a capability on a remote agent,
// resolving the agent through discovery first. An agent that does not
// advertise the capability yields a capability-not-found error without any
// network call to it.
func (c *Coordinator) InvokeCapability(ctx context.Context, agentID, capabilityID string, input json.RawMessage) (*a2a.Response, error) {
	target, err := c.discovery.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if !target.HasCapability(capabilityID) {
		return nil, a2a.CapabilityNotFound(capabilityID)
	}
	return c.comms.InvokeCapability(ctx, *target, capabilityID, input)
}

// InvokeAsync invokes a capability asynchronously; the result is delivered to
// callbackURL. The returned ack carries the correlation request id under
// metadata.
func (c *Coordinator) InvokeAsync(ctx context.Context, agentID, capabilityID string, input json.RawMessage, callbackURL string) (*a2a.Response, error) {
	target, err := c.discovery.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if !target.HasCapability(capabilityID) {
		return nil, a2a.CapabilityNotFound(capabilityID)
	}
	return c.comms.SendRequest(ctx, comms.Request{
		Target:      *target,
		Invoke:      a2a.Request{CapabilityID: capabilityID, Input: input},
		Mode:        comms.ModeAsynchronous,
		CallbackURL: callbackURL,
	})
}

// OpenStream opens a streaming invocation of a capability on a remote agent.
func (c *Coordinator) OpenStream(ctx context.Context, agentID, capabilityID string, input json.RawMessage) (*comms.StreamSession, error) {
	target, err := c.discovery.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	capability := target.Capability(capabilityID)
	if capability == nil {
		return nil, a2a.CapabilityNotFound(capabilityID)
	}
	if !capability.SupportsStreaming {
		return nil, fmt.Errorf("capability %q: %w", capabilityID, ErrNotStreamable)
	}
	return c.comms.SendStreamingRequest(ctx, *target, a2a.Request{CapabilityID: capabilityID, Input: input})
}

// PingAgent checks whether a remote agent is reachable and answering.
func (c *Coordinator) PingAgent(ctx context.Context, agentID string) (bool, error) {
	target, err := c.discovery.GetAgent(ctx, agentID)
	if err != nil {
		return false, err
	}
	return c.comms.PingAgent(ctx, *target)
}

// Shutdown withdraws the agent from discovery, then closes every open
// connection. Registration is withdrawn first so peers stop finding an agent
// whose connections are about to drop.
func (c *Coordinator) Shutdown(ctx context.Context) {
	if c.cfg.AutoRegister {
		c.discovery.UnregisterAgent(ctx, c.cfg.AgentID)
		c.publish(ctx, eventbus.SubjectAgentUnregistered)
	}
	c.comms.CloseAll()
	c.log.Info("agent shut down", "agent", c.cfg.AgentID)
}

// publish emits a lifecycle event best-effort.
func (c *Coordinator) publish(ctx context.Context, subject string) {
	if c.bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"agent_id": c.cfg.AgentID,
		"at":       time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	if err := c.bus.Publish(ctx, subject, payload); err != nil {
		c.log.Warn("lifecycle event publish failed", "subject", subject, "error", err)
	}
}
