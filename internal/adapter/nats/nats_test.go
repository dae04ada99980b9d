package nats

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"
)

// testConnect connects to NATS or skips the test if NATS_URL is not set.
func testConnect(t *testing.T) *Bus {
	t.Helper()

	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}

	b, err := Connect(context.Background(), url)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		if err := b.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return b
}

// uniqueSubject returns a test subject under the "a2a.agent." prefix, which
// the AGENTMESH stream captures (a2a.>).
func uniqueSubject(t *testing.T) string {
	t.Helper()
	return "a2a.agent.test." + t.Name()
}

func TestBusPublishSubscribe(t *testing.T) {
	b := testConnect(t)
	subject := uniqueSubject(t)

	type payload struct {
		AgentID string `json:"agent_id"`
	}
	want := payload{AgentID: "alpha"}
	data, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var (
		mu       sync.Mutex
		received *payload
		done     = make(chan struct{})
		once     sync.Once
	)

	stop, err := b.Subscribe(context.Background(), subject, func(_ string, d []byte) error {
		var got payload
		if err := json.Unmarshal(d, &got); err != nil {
			return err
		}
		mu.Lock()
		received = &got
		mu.Unlock()
		once.Do(func() { close(done) })
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	t.Cleanup(stop)

	if err := b.Publish(context.Background(), subject, data); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("event never delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	if received == nil || received.AgentID != want.AgentID {
		t.Fatalf("received = %+v, want %+v", received, want)
	}
}
