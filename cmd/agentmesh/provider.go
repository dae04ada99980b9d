package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/loomworks/agentmesh/internal/a2a"
	"github.com/loomworks/agentmesh/internal/port/runtime"
)

// echoProvider is the built-in demo provider: echo returns its input, and
// echo_stream returns it word by word. Embedders replace it with their own
// runtime.Provider.
type echoProvider struct{}

func newEchoProvider() *echoProvider { return &echoProvider{} }

func (p *echoProvider) Capabilities() []a2a.Capability {
	return []a2a.Capability{
		{
			ID:          "echo",
			Name:        "Echo",
			Description: "Returns the input unchanged.",
			Tags:        []string{"demo"},
		},
		{
			ID:                "echo_stream",
			Name:              "Echo Stream",
			Description:       "Streams the input back one word at a time.",
			SupportsStreaming: true,
			Tags:              []string{"demo"},
		},
	}
}

func (p *echoProvider) Execute(_ context.Context, capabilityID string, input json.RawMessage) (json.RawMessage, error) {
	switch capabilityID {
	case "echo", "echo_stream":
		if input == nil {
			input = json.RawMessage(`null`)
		}
		return input, nil
	default:
		return nil, fmt.Errorf("%q: %w", capabilityID, runtime.ErrUnknownCapability)
	}
}

func (p *echoProvider) ExecuteStream(ctx context.Context, capabilityID string, input json.RawMessage) (<-chan json.RawMessage, error) {
	if capabilityID != "echo_stream" {
		return nil, fmt.Errorf("%q: %w", capabilityID, runtime.ErrUnknownCapability)
	}

	var text string
	if err := json.Unmarshal(input, &text); err != nil {
		// non-string input degrades to a single chunk
		text = string(input)
	}

	ch := make(chan json.RawMessage)
	go func() {
		defer close(ch)
		for _, word := range strings.Fields(text) {
			chunk, err := json.Marshal(word)
			if err != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case ch <- chunk:
			}
		}
	}()
	return ch, nil
}
