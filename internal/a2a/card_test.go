package a2a

import (
	"encoding/json"
	"testing"
)

func TestAgentCardCapabilityLookup(t *testing.T) {
	card := NewAgentCard("agent1", "Test Agent", "1.0.0", "https://agent.example.com")
	card.Capabilities = []Capability{
		{ID: "analyze", Name: "Analyze Data", Description: "Perform data analysis", Tags: []string{"analysis"}},
	}

	if !card.HasCapability("analyze") {
		t.Error("expected card to have capability analyze")
	}
	if card.HasCapability("nonexistent") {
		t.Error("did not expect capability nonexistent")
	}
	if got := card.Capability("analyze"); got == nil || got.Name != "Analyze Data" {
		t.Errorf("Capability(analyze) = %+v", got)
	}
}

func TestCapabilitiesByTag(t *testing.T) {
	card := NewAgentCard("agent1", "Test Agent", "1.0.0", "https://agent.example.com")
	card.Capabilities = []Capability{
		{ID: "search", Tags: []string{"search", "docs"}},
		{ID: "analyze", Tags: []string{"analysis"}},
		{ID: "summarize", Tags: []string{"docs"}},
	}

	docs := card.CapabilitiesByTag("docs")
	if len(docs) != 2 {
		t.Fatalf("got %d capabilities with tag docs, want 2", len(docs))
	}
	if docs[0].ID != "search" || docs[1].ID != "summarize" {
		t.Errorf("order not preserved: %q, %q", docs[0].ID, docs[1].ID)
	}
	if got := card.CapabilitiesByTag("none"); got != nil {
		t.Errorf("expected nil for unknown tag, got %v", got)
	}
}

func TestAgentCardSerialization(t *testing.T) {
	card := NewAgentCard("agent1", "Test Agent", "1.0.0", "https://agent.example.com")
	card.Description = "A test agent"
	card.Connection.Auth = &AuthInfo{
		Type:        AuthBearer,
		Credentials: map[string]string{"token": "secret"},
	}
	card.Capabilities = []Capability{
		{ID: "search", Name: "Search", Description: "Search documents", SupportsStreaming: true, Tags: []string{"search"}},
	}

	data, err := json.Marshal(card)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded AgentCard
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.ID != "agent1" || decoded.Connection.BaseURL != "https://agent.example.com" {
		t.Errorf("identity fields lost: %+v", decoded)
	}
	if decoded.Connection.Auth == nil || decoded.Connection.Auth.Type != AuthBearer {
		t.Errorf("auth lost: %+v", decoded.Connection.Auth)
	}
	if len(decoded.Capabilities) != 1 || !decoded.Capabilities[0].SupportsStreaming {
		t.Errorf("capabilities lost: %+v", decoded.Capabilities)
	}
}
